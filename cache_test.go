package mingle

import (
	"fmt"
	"testing"
)

func msg(id, convID int64, content string) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       1,
		Content:        content,
		CreatedAt:      fmt.Sprintf("2026-08-29T10:00:%02dZ", id%60),
	}
}

func messageIDs(msgs []Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// ============================================================================
// Live append
// ============================================================================

func TestCacheAppendLive(t *testing.T) {
	t.Run("seeds first page", func(t *testing.T) {
		c := NewConversationCache()
		if !c.AppendLive(msg(1, 10, "hi")) {
			t.Fatal("append rejected")
		}
		if got := messageIDs(c.Messages(10)); len(got) != 1 || got[0] != 1 {
			t.Fatalf("messages = %v, want [1]", got)
		}
		if got := c.PageCount(10); got != 1 {
			t.Fatalf("pages = %d, want 1", got)
		}
	})

	t.Run("appends to newest page", func(t *testing.T) {
		c := NewConversationCache()
		c.ReplaceMessages(10, []Message{msg(1, 10, "a"), msg(2, 10, "b")})
		c.AppendLive(msg(3, 10, "c"))
		if got := messageIDs(c.Messages(10)); len(got) != 3 || got[2] != 3 {
			t.Fatalf("messages = %v, want [1 2 3]", got)
		}
		if got := c.PageCount(10); got != 1 {
			t.Fatalf("pages = %d, want 1", got)
		}
	})

	t.Run("duplicate ID dropped", func(t *testing.T) {
		c := NewConversationCache()
		m := msg(5, 10, "once")
		if !c.AppendLive(m) {
			t.Fatal("first append rejected")
		}
		if c.AppendLive(m) {
			t.Fatal("duplicate append accepted")
		}
		if got := len(c.Messages(10)); got != 1 {
			t.Fatalf("len = %d, want 1", got)
		}
		if got := c.UnreadFor(10); got != 1 {
			t.Fatalf("unread = %d, want 1", got)
		}
	})

	t.Run("zero IDs rejected", func(t *testing.T) {
		c := NewConversationCache()
		if c.AppendLive(Message{ID: 0, ConversationID: 10}) {
			t.Fatal("accepted message without ID")
		}
		if c.AppendLive(Message{ID: 1, ConversationID: 0}) {
			t.Fatal("accepted message without conversation")
		}
	})

	t.Run("read messages do not bump counters", func(t *testing.T) {
		c := NewConversationCache()
		m := msg(1, 10, "seen")
		m.IsRead = true
		c.AppendLive(m)
		if got := c.UnreadFor(10); got != 0 {
			t.Fatalf("unread = %d, want 0", got)
		}
	})
}

func TestCacheUpdateMessage(t *testing.T) {
	c := NewConversationCache()
	c.ReplaceMessages(10, []Message{msg(1, 10, "a"), msg(2, 10, "b"), msg(3, 10, "c")})

	edited := msg(2, 10, "b (edited)")
	if !c.UpdateMessage(edited) {
		t.Fatal("update missed a cached message")
	}
	msgs := c.Messages(10)
	if msgs[1].Content != "b (edited)" {
		t.Fatalf("content = %q, want edited", msgs[1].Content)
	}
	if got := messageIDs(msgs); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order disturbed: %v", got)
	}

	if c.UpdateMessage(msg(99, 10, "ghost")) {
		t.Fatal("update reported success for an uncached message")
	}
}

// ============================================================================
// Pagination
// ============================================================================

func TestCachePagination(t *testing.T) {
	t.Run("older pages merge without duplicates", func(t *testing.T) {
		c := NewConversationCache()
		// Newest window first, then two older pages, the way infinite
		// scroll loads them.
		c.ReplaceMessages(10, []Message{msg(14, 10, ""), msg(15, 10, ""), msg(16, 10, "")})
		if got := c.PrependOlder(10, []Message{msg(11, 10, ""), msg(12, 10, ""), msg(13, 10, "")}); got != 3 {
			t.Fatalf("added = %d, want 3", got)
		}
		// Overlapping fetch: 13 is already cached.
		if got := c.PrependOlder(10, []Message{msg(9, 10, ""), msg(10, 10, ""), msg(13, 10, "")}); got != 2 {
			t.Fatalf("added = %d, want 2", got)
		}

		got := messageIDs(c.Messages(10))
		want := []int64{9, 10, 11, 12, 13, 14, 15, 16}
		if len(got) != len(want) {
			t.Fatalf("ids = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("ids = %v, want %v", got, want)
			}
		}
	})

	t.Run("fully duplicate page adds nothing", func(t *testing.T) {
		c := NewConversationCache()
		c.ReplaceMessages(10, []Message{msg(1, 10, ""), msg(2, 10, "")})
		if got := c.PrependOlder(10, []Message{msg(1, 10, ""), msg(2, 10, "")}); got != 0 {
			t.Fatalf("added = %d, want 0", got)
		}
		if got := c.PageCount(10); got != 1 {
			t.Fatalf("pages = %d, want 1", got)
		}
	})

	t.Run("replace rebuilds the window", func(t *testing.T) {
		c := NewConversationCache()
		c.ReplaceMessages(10, []Message{msg(1, 10, "")})
		c.PrependOlder(10, []Message{msg(0, 10, "")}) // dropped: no ID 0
		c.InvalidateMessages(10)
		if !c.MessagesStale(10) {
			t.Fatal("conversation not marked stale")
		}
		c.ReplaceMessages(10, []Message{msg(5, 10, ""), msg(6, 10, "")})
		if c.MessagesStale(10) {
			t.Fatal("stale flag survived the replace")
		}
		got := messageIDs(c.Messages(10))
		if len(got) != 2 || got[0] != 5 || got[1] != 6 {
			t.Fatalf("ids = %v, want [5 6]", got)
		}
		// Old IDs are forgotten and may be appended again.
		if !c.AppendLive(msg(1, 10, "back")) {
			t.Fatal("ID from the replaced window still blocked")
		}
	})

	t.Run("oldest pages evicted past the bound", func(t *testing.T) {
		c := NewConversationCache()
		c.ReplaceMessages(10, []Message{msg(100000, 10, "")})
		for i := 0; i < maxPagesPerConversation+5; i++ {
			id := int64(90000 - i)
			c.PrependOlder(10, []Message{{ID: id, ConversationID: 10}})
		}
		if got := c.PageCount(10); got != maxPagesPerConversation {
			t.Fatalf("pages = %d, want %d", got, maxPagesPerConversation)
		}
		// An evicted message can be fetched and cached again.
		evicted := int64(90000)
		if got := c.PrependOlder(10, []Message{{ID: evicted, ConversationID: 10}}); got != 1 {
			t.Fatal("evicted message still counted as seen")
		}
	})
}

// ============================================================================
// Cross-channel duplicate delivery
// ============================================================================

// The same message can arrive over the chat channel and again through the
// refetch triggered by a new_message notification, in either order. One
// copy must remain and the unread count reflect it once.
func TestCacheCrossChannelDuplicate(t *testing.T) {
	m := msg(42, 10, "hello")

	t.Run("socket first then refetch", func(t *testing.T) {
		c := NewConversationCache()
		c.AppendLive(m)
		c.SetConversations([]Conversation{{ID: 10, UnreadCount: 1}})
		if c.AppendLive(m) {
			t.Fatal("duplicate accepted after refetch")
		}
		if got := len(c.Messages(10)); got != 1 {
			t.Fatalf("copies = %d, want 1", got)
		}
		if got := c.UnreadFor(10); got != 1 {
			t.Fatalf("unread = %d, want 1", got)
		}
		if got := c.UnreadTotal(); got != 1 {
			t.Fatalf("total unread = %d, want 1", got)
		}
	})

	t.Run("refetch first then socket", func(t *testing.T) {
		c := NewConversationCache()
		c.NoteNewMessage() // notification channel signal
		c.ReplaceMessages(10, []Message{m})
		c.SetConversations([]Conversation{{ID: 10, UnreadCount: 1}})
		if c.AppendLive(m) {
			t.Fatal("duplicate accepted after refetch")
		}
		if got := len(c.Messages(10)); got != 1 {
			t.Fatalf("copies = %d, want 1", got)
		}
		if got := c.UnreadTotal(); got != 1 {
			t.Fatalf("total unread = %d, want 1", got)
		}
	})
}

// ============================================================================
// Invalidation and counters
// ============================================================================

func TestCacheConversationList(t *testing.T) {
	c := NewConversationCache()

	c.NoteNewMessage()
	if !c.ConversationsStale() {
		t.Fatal("new_message did not mark the list stale")
	}
	if got := c.UnreadTotal(); got != 1 {
		t.Fatalf("total unread = %d, want 1", got)
	}

	c.SetConversations([]Conversation{
		{ID: 10, UnreadCount: 2},
		{ID: 11, UnreadCount: 0},
		{ID: 12, UnreadCount: 3},
	})
	if c.ConversationsStale() {
		t.Fatal("stale flag survived the refetch")
	}
	if got := c.UnreadTotal(); got != 5 {
		t.Fatalf("total unread = %d, want 5 from server numbers", got)
	}
	if got := c.UnreadFor(10); got != 2 {
		t.Fatalf("unread(10) = %d, want 2", got)
	}
	if got := len(c.Conversations()); got != 3 {
		t.Fatalf("conversations = %d, want 3", got)
	}
}

func TestCacheMarkRead(t *testing.T) {
	t.Run("flips flags and decrements counters", func(t *testing.T) {
		c := NewConversationCache()
		c.AppendLive(msg(1, 10, "a"))
		c.AppendLive(msg(2, 10, "b"))
		c.AppendLive(msg(3, 10, "c"))

		c.MarkRead(10, []int64{1, 3})
		msgs := c.Messages(10)
		if !msgs[0].IsRead || msgs[1].IsRead || !msgs[2].IsRead {
			t.Fatalf("read flags wrong: %+v", msgs)
		}
		if got := c.UnreadFor(10); got != 1 {
			t.Fatalf("unread = %d, want 1", got)
		}
		if got := c.UnreadTotal(); got != 1 {
			t.Fatalf("total = %d, want 1", got)
		}
	})

	t.Run("already-read and unknown IDs are no-ops", func(t *testing.T) {
		c := NewConversationCache()
		c.AppendLive(msg(1, 10, "a"))
		c.MarkRead(10, []int64{1})
		c.MarkRead(10, []int64{1, 999})
		if got := c.UnreadFor(10); got != 0 {
			t.Fatalf("unread = %d, want 0", got)
		}
		if got := c.UnreadTotal(); got != 0 {
			t.Fatalf("total = %d, want 0", got)
		}
	})

	t.Run("counters floor at zero", func(t *testing.T) {
		c := NewConversationCache()
		// Server says nothing unread, but the cached window still carries
		// unread flags from an earlier fetch.
		c.ReplaceMessages(10, []Message{msg(1, 10, "a"), msg(2, 10, "b")})
		c.SetConversations([]Conversation{{ID: 10, UnreadCount: 0}})
		c.MarkRead(10, []int64{1, 2})
		if got := c.UnreadFor(10); got != 0 {
			t.Fatalf("unread = %d, want 0", got)
		}
		if got := c.UnreadTotal(); got != 0 {
			t.Fatalf("total = %d, want 0", got)
		}
	})
}
