package mingle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validToken(t *testing.T, userID int64) string {
	return signToken(t, &sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

// ============================================================================
// Token identity
// ============================================================================

func TestIdentityFromToken(t *testing.T) {
	t.Run("userId claim", func(t *testing.T) {
		userID, err := identityFromToken(validToken(t, 42))
		if err != nil {
			t.Fatalf("identityFromToken: %v", err)
		}
		if userID != 42 {
			t.Fatalf("userID = %d, want 42", userID)
		}
	})

	t.Run("subject fallback", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "17",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		userID, err := identityFromToken(token)
		if err != nil {
			t.Fatalf("identityFromToken: %v", err)
		}
		if userID != 17 {
			t.Fatalf("userID = %d, want 17", userID)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, &sessionClaims{
			UserID: 42,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		if _, err := identityFromToken(token); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("err = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("no identity", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
		if _, err := identityFromToken(token); err == nil {
			t.Fatal("token without identity accepted")
		}
	})

	t.Run("empty token is unauthenticated", func(t *testing.T) {
		userID, err := identityFromToken("")
		if err != nil || userID != 0 {
			t.Fatalf("got (%d, %v), want (0, nil)", userID, err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := identityFromToken("not.a.jwt"); err == nil {
			t.Fatal("garbage token accepted")
		}
	})
}

// ============================================================================
// Session lifecycle
// ============================================================================

func TestNewSession(t *testing.T) {
	t.Run("authenticated", func(t *testing.T) {
		s, err := NewSession(NewClient(validToken(t, 42)))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		defer s.Close()
		if s.UserID() != 42 {
			t.Fatalf("userID = %d, want 42", s.UserID())
		}
	})

	t.Run("expired token refused", func(t *testing.T) {
		token := signToken(t, &sessionClaims{
			UserID: 42,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		if _, err := NewSession(NewClient(token)); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("err = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("unauthenticated session stays disabled", func(t *testing.T) {
		s, err := NewSession(NewClient(""))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		defer s.Close()
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if got := s.Notifications().State(); got != ConnClosed {
			t.Fatalf("stream state = %s, want closed", got)
		}
	})
}

func TestSessionClose(t *testing.T) {
	s, err := NewSession(NewClient(validToken(t, 42)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrSessionClosed {
		t.Fatalf("Start after Close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.OpenChat(context.Background(), 10, nil); err != ErrSessionClosed {
		t.Fatalf("OpenChat after Close = %v, want ErrSessionClosed", err)
	}
}

func TestSessionAuthErrorTearsDown(t *testing.T) {
	loggedOut := make(chan struct{})
	s, err := NewSession(NewClient(validToken(t, 42)),
		WithOnAuthError(func() { close(loggedOut) }))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Inject the server's fatal signal directly into the stream.
	s.stream.handleFrame([]byte(`{"type":"auth_error"}`))

	select {
	case <-loggedOut:
	case <-time.After(3 * time.Second):
		t.Fatal("logout hook never fired")
	}
	if _, err := s.OpenChat(context.Background(), 10, nil); err != ErrSessionClosed {
		t.Fatalf("OpenChat after auth error = %v, want ErrSessionClosed", err)
	}
}

// ============================================================================
// Cache refetch paths
// ============================================================================

func TestSessionRefreshConversations(t *testing.T) {
	fail := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]Conversation{{ID: 1, UnreadCount: 3}})
	}))
	defer ts.Close()

	s, err := NewSession(NewClient(validToken(t, 42), WithBaseURL(ts.URL), WithLogger(NopLogger)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.RefreshConversations(context.Background()); err != nil {
		t.Fatalf("RefreshConversations: %v", err)
	}
	if got := s.Cache().UnreadTotal(); got != 3 {
		t.Fatalf("unread = %d, want 3", got)
	}

	// A failed refetch keeps the prior cache for retry.
	fail = true
	if err := s.RefreshConversations(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := len(s.Cache().Conversations()); got != 1 {
		t.Fatalf("conversations = %d after failed refresh, want 1", got)
	}
	if got := s.Cache().UnreadTotal(); got != 3 {
		t.Fatalf("unread = %d after failed refresh, want 3", got)
	}
}

func TestSessionMessagePaging(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/10/messages" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("before") == "3" {
			json.NewEncoder(w).Encode([]Message{
				{ID: 1, ConversationID: 10, Content: "a"},
				{ID: 2, ConversationID: 10, Content: "b"},
			})
			return
		}
		json.NewEncoder(w).Encode([]Message{
			{ID: 3, ConversationID: 10, Content: "c"},
			{ID: 4, ConversationID: 10, Content: "d"},
		})
	}))
	defer ts.Close()

	s, err := NewSession(NewClient(validToken(t, 42), WithBaseURL(ts.URL), WithLogger(NopLogger)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.RefreshMessages(context.Background(), 10, 2); err != nil {
		t.Fatalf("RefreshMessages: %v", err)
	}
	added, err := s.LoadOlderMessages(context.Background(), 10, 3, 2)
	if err != nil {
		t.Fatalf("LoadOlderMessages: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	got := messageIDs(s.Cache().Messages(10))
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestSessionMarkConversationRead(t *testing.T) {
	var acked []int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/10/read" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			MessageIDs []int64 `json:"messageIds"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		acked = payload.MessageIDs
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	s, err := NewSession(NewClient(validToken(t, 42), WithBaseURL(ts.URL), WithLogger(NopLogger)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	s.Cache().AppendLive(Message{ID: 4, ConversationID: 10, Content: "unread"})
	if err := s.MarkConversationRead(context.Background(), 10, []int64{4}); err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if len(acked) != 1 || acked[0] != 4 {
		t.Fatalf("server acked %v, want [4]", acked)
	}
	if got := s.Cache().UnreadFor(10); got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
	if !s.Cache().Messages(10)[0].IsRead {
		t.Fatal("cached message still unread")
	}
}

// ============================================================================
// Chat channel management
// ============================================================================

func TestSessionOpenChatReusesChannel(t *testing.T) {
	// Unauthenticated session: channels are disabled handles, so OpenChat
	// succeeds without a server.
	s, err := NewSession(NewClient(""))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	first, err := s.OpenChat(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	second, err := s.OpenChat(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("OpenChat again: %v", err)
	}
	if first != second {
		t.Fatal("second OpenChat created a new channel")
	}

	s.CloseChat(10)
	third, err := s.OpenChat(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("OpenChat after CloseChat: %v", err)
	}
	if third == first {
		t.Fatal("CloseChat left the old channel registered")
	}
}
