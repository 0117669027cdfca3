package mingle

import "sync"

// maxPagesPerConversation bounds how much history the cache retains per
// conversation. The oldest page is evicted first. The server keeps the
// durable copy; evicted pages are refetched on demand.
const maxPagesPerConversation = 50

// MessagePage is an ordered run of messages, oldest first. Pages for one
// conversation are held newest-page-first; loading more history appends an
// older page to the tail.
type MessagePage []Message

// ConversationCache reconciles push-delivered message and conversation
// events with the paginated, REST-fetched read cache.
//
// All mutating entry points are idempotent against duplicate delivery: a
// new_message notification and the matching chat_message frame may arrive
// in either order, and a pushed message may race a concurrent REST fetch
// that already contains it. A message ID present anywhere in a
// conversation's page set is never appended again.
type ConversationCache struct {
	mu sync.Mutex

	pages map[int64][]MessagePage
	seen  map[int64]map[int64]struct{}

	conversations []Conversation
	convStale     bool
	msgStale      map[int64]bool

	unreadByConv map[int64]int
	unreadTotal  int
}

// NewConversationCache returns an empty cache.
func NewConversationCache() *ConversationCache {
	return &ConversationCache{
		pages:        make(map[int64][]MessagePage),
		seen:         make(map[int64]map[int64]struct{}),
		msgStale:     make(map[int64]bool),
		unreadByConv: make(map[int64]int),
	}
}

// ============================================================================
// Same-conversation fast path
// ============================================================================

// AppendLive merges one push-delivered message into its conversation's page
// set. If the conversation has no pages yet it is seeded with a single page
// holding just this message; otherwise the message is appended to the
// newest page. Duplicate IDs are dropped. Returns whether the message was
// actually added.
func (c *ConversationCache) AppendLive(msg Message) bool {
	if msg.ID == 0 || msg.ConversationID == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.seen[msg.ConversationID]
	if ids == nil {
		ids = make(map[int64]struct{})
		c.seen[msg.ConversationID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return false
	}
	ids[msg.ID] = struct{}{}

	ps := c.pages[msg.ConversationID]
	if len(ps) == 0 {
		c.pages[msg.ConversationID] = []MessagePage{{msg}}
	} else {
		ps[0] = append(ps[0], msg)
	}

	if !msg.IsRead {
		c.unreadByConv[msg.ConversationID]++
		c.unreadTotal++
	}
	return true
}

// UpdateMessage replaces a cached message in place (message_updated).
// Ordering and unrelated entries are untouched. Returns whether the message
// was found.
func (c *ConversationCache) UpdateMessage(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pi, page := range c.pages[msg.ConversationID] {
		for mi, m := range page {
			if m.ID == msg.ID {
				c.pages[msg.ConversationID][pi][mi] = msg
				return true
			}
		}
	}
	return false
}

// ============================================================================
// Pagination
// ============================================================================

// PrependOlder adds a page of older history fetched through REST. Messages
// already cached are skipped; the remainder keep their fetched order and
// become the new oldest page. Returns how many messages were added.
//
// Scroll anchoring is the caller's job: record the content height before
// calling and restore the equivalent offset after.
func (c *ConversationCache) PrependOlder(conversationID int64, msgs []Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.seen[conversationID]
	if ids == nil {
		ids = make(map[int64]struct{})
		c.seen[conversationID] = ids
	}

	var page MessagePage
	for _, m := range msgs {
		if m.ID == 0 {
			continue
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		page = append(page, m)
	}
	if len(page) == 0 {
		return 0
	}

	c.pages[conversationID] = append(c.pages[conversationID], page)
	c.evictLocked(conversationID)
	return len(page)
}

// ReplaceMessages rebuilds a conversation's page set from a fresh REST
// fetch (msgs oldest first). Used by the invalidation path once the refetch
// succeeds; on a failed fetch the caller simply leaves the prior cache in
// place.
func (c *ConversationCache) ReplaceMessages(conversationID int64, msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[int64]struct{}, len(msgs))
	page := make(MessagePage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 {
			continue
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		page = append(page, m)
	}
	c.seen[conversationID] = ids
	if len(page) == 0 {
		delete(c.pages, conversationID)
	} else {
		c.pages[conversationID] = []MessagePage{page}
	}
	c.msgStale[conversationID] = false
}

// Messages flattens the page set oldest-to-newest.
func (c *ConversationCache) Messages(conversationID int64) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.pages[conversationID]
	var out []Message
	for i := len(ps) - 1; i >= 0; i-- {
		out = append(out, ps[i]...)
	}
	return out
}

// PageCount returns how many pages are cached for a conversation.
func (c *ConversationCache) PageCount(conversationID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages[conversationID])
}

// evictLocked drops the oldest pages beyond the retention bound.
func (c *ConversationCache) evictLocked(conversationID int64) {
	ps := c.pages[conversationID]
	for len(ps) > maxPagesPerConversation {
		oldest := ps[len(ps)-1]
		ps = ps[:len(ps)-1]
		for _, m := range oldest {
			delete(c.seen[conversationID], m.ID)
		}
	}
	c.pages[conversationID] = ps
}

// ============================================================================
// Cross-conversation invalidation
// ============================================================================

// InvalidateConversations marks the conversation list stale. No field-level
// merge is attempted; the list is replaced wholesale on the next successful
// refetch.
func (c *ConversationCache) InvalidateConversations() {
	c.mu.Lock()
	c.convStale = true
	c.mu.Unlock()
}

// ConversationsStale reports whether the list needs a refetch.
func (c *ConversationCache) ConversationsStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convStale
}

// InvalidateMessages marks one conversation's message pages stale.
func (c *ConversationCache) InvalidateMessages(conversationID int64) {
	c.mu.Lock()
	c.msgStale[conversationID] = true
	c.mu.Unlock()
}

// MessagesStale reports whether a conversation's pages need a refetch.
func (c *ConversationCache) MessagesStale(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgStale[conversationID]
}

// SetConversations replaces the conversation list after a successful REST
// fetch and clears the stale flag. Per-conversation and aggregate unread
// counters are reset to the server's numbers, which reconciles any
// cross-channel double counting.
func (c *ConversationCache) SetConversations(list []Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = append([]Conversation(nil), list...)
	c.convStale = false
	c.unreadByConv = make(map[int64]int, len(list))
	c.unreadTotal = 0
	for _, conv := range list {
		if conv.UnreadCount > 0 {
			c.unreadByConv[conv.ID] = conv.UnreadCount
			c.unreadTotal += conv.UnreadCount
		}
	}
}

// Conversations returns a copy of the cached conversation list.
func (c *ConversationCache) Conversations() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Conversation(nil), c.conversations...)
}

// ============================================================================
// Unread counters
// ============================================================================

// NoteNewMessage records a cross-conversation new_message signal: the
// session-wide unread counter is bumped and the conversation list marked
// stale. The per-conversation message pages are not touched on this path.
func (c *ConversationCache) NoteNewMessage() {
	c.mu.Lock()
	c.unreadTotal++
	c.convStale = true
	c.mu.Unlock()
}

// MarkRead flips the read flag on the given message IDs in place and
// decrements the unread counters for each message actually flipped.
// Counters never go below zero; unrelated cache entries are not reordered
// or dropped.
func (c *ConversationCache) MarkRead(conversationID int64, messageIDs []int64) {
	if len(messageIDs) == 0 {
		return
	}
	want := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for pi, page := range c.pages[conversationID] {
		for mi, m := range page {
			if _, ok := want[m.ID]; !ok || m.IsRead {
				continue
			}
			c.pages[conversationID][pi][mi].IsRead = true
			if c.unreadByConv[conversationID] > 0 {
				c.unreadByConv[conversationID]--
			}
			if c.unreadTotal > 0 {
				c.unreadTotal--
			}
		}
	}
}

// UnreadTotal returns the session-wide unread message count.
func (c *ConversationCache) UnreadTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadTotal
}

// UnreadFor returns the unread count for one conversation.
func (c *ConversationCache) UnreadFor(conversationID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadByConv[conversationID]
}
