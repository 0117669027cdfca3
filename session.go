package mingle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the session token has already expired.
// It mirrors the server's token_expired signal: the caller should run the
// logout flow and re-authenticate, not retry.
var ErrTokenExpired = errors.New("mingle: session token expired")

// ErrSessionClosed is returned by operations on a torn-down session.
var ErrSessionClosed = errors.New("mingle: session closed")

// sessionClaims is the subset of the token the client inspects. The token
// is never verified client-side; the server owns validation, the client
// only reads routing identity and expiry.
type sessionClaims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// Session owns all per-login shared state: the presence set, unread
// counters, the conversation cache, the notification stream and any open
// chat channels. It is created on authenticate and torn down on logout,
// keeping every mutation behind one owner instead of ambient globals.
type Session struct {
	client  *Client
	userID  int64
	tracker *PresenceTracker
	cache   *ConversationCache
	stream  *NotificationStream
	alerter Alerter
	connCfg *ConnConfig
	logf    Logger

	onAuthError func()

	mu     sync.Mutex
	chats  map[int64]*ChatSession
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAlerter installs the user-facing alert hook for notifications.
func WithAlerter(a Alerter) SessionOption {
	return func(s *Session) { s.alerter = a }
}

// WithConnConfig overrides the reconnect policy for every channel the
// session opens.
func WithConnConfig(cfg ConnConfig) SessionOption {
	return func(s *Session) { s.connCfg = &cfg }
}

// WithOnAuthError registers the logout hook invoked when the server
// signals auth_error or token_expired. The session has already been closed
// when it fires.
func WithOnAuthError(fn func()) SessionOption {
	return func(s *Session) { s.onAuthError = fn }
}

// NewSession builds the state container for one authenticated login. The
// client's token is inspected (unverified) for the user ID and expiry; an
// already-expired token returns ErrTokenExpired so the caller goes through
// the same logout path the server would force.
func NewSession(client *Client, opts ...SessionOption) (*Session, error) {
	userID, err := identityFromToken(client.Token())
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:  client,
		userID:  userID,
		tracker: NewPresenceTracker(),
		cache:   NewConversationCache(),
		logf:    client.logf,
		chats:   make(map[int64]*ChatSession),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.stream = newNotificationStream(
		client.NotificationStreamURL(userID),
		s.tracker, s.cache, s.alerter, s.connCfg, s.logf,
		s.handleAuthError,
		func() { go s.refreshConversationsAsync() },
	)
	return s, nil
}

// identityFromToken extracts the user ID from the session token and
// rejects expired tokens. An empty token yields userID 0: a valid but
// unauthenticated session whose channels stay disabled.
func identityFromToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("mingle: parse session token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return 0, fmt.Errorf("mingle: parse session token: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return 0, ErrTokenExpired
	}
	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		userID, _ = strconv.ParseInt(claims.Subject, 10, 64)
	}
	if userID == 0 {
		return 0, fmt.Errorf("mingle: session token carries no user identity")
	}
	return userID, nil
}

// UserID returns the authenticated user, or 0 when unauthenticated.
func (s *Session) UserID() int64 { return s.userID }

// Presence returns the session's presence tracker.
func (s *Session) Presence() *PresenceTracker { return s.tracker }

// Cache returns the conversation cache reconciler.
func (s *Session) Cache() *ConversationCache { return s.cache }

// Notifications returns the notification stream.
func (s *Session) Notifications() *NotificationStream { return s.stream }

// Client returns the underlying REST client.
func (s *Session) Client() *Client { return s.client }

// Start connects the notification stream and primes the conversation list.
// A failed initial list fetch is logged, not fatal: the cache stays empty
// and the next invalidation retries it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.stream.Start(ctx); err != nil {
		return err
	}
	if s.userID != 0 {
		if err := s.RefreshConversations(ctx); err != nil {
			s.logf("initial conversation fetch failed: %v", err)
		}
	}
	return nil
}

// Close tears the session down: every chat channel and the notification
// stream get an intentional close, so nothing reconnects. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	chats := make([]*ChatSession, 0, len(s.chats))
	for _, cs := range s.chats {
		chats = append(chats, cs)
	}
	s.chats = make(map[int64]*ChatSession)
	s.mu.Unlock()

	for _, cs := range chats {
		cs.Close()
	}
	return s.stream.Close()
}

// handleAuthError runs the fatal logout path for auth_error/token_expired.
func (s *Session) handleAuthError() {
	go func() {
		s.Close()
		if s.onAuthError != nil {
			s.onAuthError()
		}
	}()
}

// ============================================================================
// Chat channels
// ============================================================================

// OpenChat opens (or returns the existing) chat channel for a
// conversation. onTyping may be nil.
func (s *Session) OpenChat(ctx context.Context, conversationID int64, onTyping TypingFunc) (*ChatSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if cs, ok := s.chats[conversationID]; ok {
		s.mu.Unlock()
		return cs, nil
	}
	cs := newChatSession(s.client, s.userID, conversationID, s.cache, s.connCfg, s.logf,
		func() { go s.refreshConversationsAsync() }, onTyping)
	s.chats[conversationID] = cs
	s.mu.Unlock()

	if err := cs.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.chats, conversationID)
		s.mu.Unlock()
		cs.Close()
		return nil, err
	}
	return cs, nil
}

// CloseChat tears down the channel for one conversation, e.g. on
// navigation away.
func (s *Session) CloseChat(conversationID int64) {
	s.mu.Lock()
	cs, ok := s.chats[conversationID]
	delete(s.chats, conversationID)
	s.mu.Unlock()
	if ok {
		cs.Close()
	}
}

// ============================================================================
// Cache refetch paths
// ============================================================================

// RefreshConversations refetches the conversation list and replaces the
// cached copy. On failure the prior cache is left in place for retry on
// the next trigger.
func (s *Session) RefreshConversations(ctx context.Context) error {
	list, err := s.client.Conversations.List(ctx, nil)
	if err != nil {
		return err
	}
	s.cache.SetConversations(list)
	return nil
}

func (s *Session) refreshConversationsAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := s.RefreshConversations(ctx); err != nil {
		s.logf("conversation refresh failed, keeping stale cache: %v", err)
	}
}

// RefreshMessages refetches the newest page of a conversation and rebuilds
// its cached page set. On failure the prior pages stay intact.
func (s *Session) RefreshMessages(ctx context.Context, conversationID int64, limit int) error {
	msgs, err := s.client.Messages.History(ctx, conversationID, &MessageHistoryOptions{Limit: limit})
	if err != nil {
		return err
	}
	s.cache.ReplaceMessages(conversationID, msgs)
	return nil
}

// LoadOlderMessages pages further into history, prepending an older page.
// Returns how many messages were added after dedupe.
func (s *Session) LoadOlderMessages(ctx context.Context, conversationID, before int64, limit int) (int, error) {
	msgs, err := s.client.Messages.History(ctx, conversationID,
		&MessageHistoryOptions{Limit: limit, Before: before})
	if err != nil {
		return 0, err
	}
	return s.cache.PrependOlder(conversationID, msgs), nil
}

// MarkConversationRead acknowledges messages as read on the server and
// reconciles the local read flags and counters.
func (s *Session) MarkConversationRead(ctx context.Context, conversationID int64, messageIDs []int64) error {
	if err := s.client.Conversations.MarkRead(ctx, conversationID, messageIDs); err != nil {
		return err
	}
	s.cache.MarkRead(conversationID, messageIDs)
	return nil
}
