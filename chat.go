package mingle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrChannelNotConnected is returned by SendMessage when the chat channel
// is not open. The send is not queued.
var ErrChannelNotConnected = errors.New("mingle: chat channel not connected")

// ErrEmptyMessage is returned when a send carries neither content nor an
// attachment.
var ErrEmptyMessage = errors.New("mingle: message needs content or an attachment")

// TypingFunc receives typing-indicator events for an open conversation.
type TypingFunc func(userID int64, typing bool)

// ChatSession is the low-latency channel for one open conversation. Small
// text payloads travel over the socket; anything with an attachment falls
// back to the REST upload path. The session is disabled (never connects)
// when either the user or conversation ID is missing.
type ChatSession struct {
	userID         int64
	conversationID int64
	conn           *Conn
	cache          *ConversationCache
	client         *Client
	logf           Logger

	onConversationUpdated func()
	onTyping              TypingFunc

	mu        sync.Mutex
	onMessage []func(Message)
}

func newChatSession(client *Client, userID, conversationID int64, cache *ConversationCache,
	cfg *ConnConfig, logf Logger, onConversationUpdated func(), onTyping TypingFunc) *ChatSession {
	if logf == nil {
		logf = defaultLogger
	}
	url := ""
	if userID != 0 && conversationID != 0 {
		url = client.ChatChannelURL(userID, conversationID)
	}
	cs := &ChatSession{
		userID:                userID,
		conversationID:        conversationID,
		cache:                 cache,
		client:                client,
		logf:                  logf,
		onConversationUpdated: onConversationUpdated,
		onTyping:              onTyping,
	}
	cs.conn = NewConn(url, ConnHandlers{OnMessage: cs.handleFrame}, cfg, logf)
	return cs
}

// OnMessage registers an observer for messages newly merged into the
// cache. Duplicate deliveries of an already-cached ID do not fire it.
func (cs *ChatSession) OnMessage(h func(Message)) {
	cs.mu.Lock()
	cs.onMessage = append(cs.onMessage, h)
	cs.mu.Unlock()
}

// ConversationID returns the conversation this session is bound to.
func (cs *ChatSession) ConversationID() int64 {
	return cs.conversationID
}

// Start connects the chat channel.
func (cs *ChatSession) Start(ctx context.Context) error {
	return cs.conn.Connect(ctx)
}

// Close tears the channel down with an intentional close.
func (cs *ChatSession) Close() error {
	return cs.conn.Close()
}

// State returns the underlying connection state.
func (cs *ChatSession) State() ConnState {
	return cs.conn.State()
}

// SendMessage sends a message into the conversation. With an attachment the
// socket is bypassed and the multipart upload endpoint used; the uploaded
// message is returned. Text-only sends require an open channel and return
// ErrChannelNotConnected otherwise. A successful socket send returns
// (nil, nil): the server's echo frame drives the cache update, so no
// optimistic local append happens here.
func (cs *ChatSession) SendMessage(ctx context.Context, content string, file *Attachment) (*Message, error) {
	if content == "" && file == nil {
		return nil, ErrEmptyMessage
	}
	if file != nil {
		return cs.client.Attachments.Send(ctx, cs.conversationID, content, *file)
	}
	if !cs.conn.IsOpen() {
		return nil, ErrChannelNotConnected
	}
	if err := cs.conn.Send(ctx, outboundChatMessage{Type: evtChatMessage, Content: content}); err != nil {
		return nil, err
	}
	return nil, nil
}

// SendTyping emits a fire-and-forget typing indicator. No acknowledgement
// is expected and failures are only logged.
func (cs *ChatSession) SendTyping(ctx context.Context, typing bool) {
	frame := outboundTyping{Type: evtStartTyping, ConversationID: cs.conversationID}
	if !typing {
		frame.Type = evtStopTyping
	}
	if err := cs.conn.Send(ctx, frame); err != nil {
		cs.logf("typing indicator dropped: %v", err)
	}
}

// handleFrame is the single decode-and-switch point for the chat channel.
func (cs *ChatSession) handleFrame(raw json.RawMessage) {
	ev, err := decodeChatEvent(raw)
	if err != nil {
		cs.logf("chat channel %d: %v", cs.conversationID, err)
		return
	}

	switch ev.Type {
	case evtChatMessage, evtNewMessage:
		// Same-conversation fast path: idempotent append, then refresh the
		// conversation list so previews and unread counts stay current.
		msg := *ev.Message
		if msg.ConversationID == 0 {
			msg.ConversationID = cs.conversationID
		}
		if cs.cache.AppendLive(msg) {
			cs.mu.Lock()
			observers := append(([]func(Message))(nil), cs.onMessage...)
			cs.mu.Unlock()
			for _, h := range observers {
				h(msg)
			}
		}
		cs.notifyConversationUpdated()
	case evtMessageUpdated:
		msg := *ev.Message
		if msg.ConversationID == 0 {
			msg.ConversationID = cs.conversationID
		}
		if !cs.cache.UpdateMessage(msg) {
			// Edited message is outside the cached window; a refetch will
			// pick it up.
			cs.cache.InvalidateMessages(cs.conversationID)
		}
	case evtConversationUpdated:
		cs.cache.InvalidateConversations()
		cs.notifyConversationUpdated()
	case evtUserTyping, evtUserStoppedTyping:
		if cs.onTyping != nil {
			cs.onTyping(ev.From, ev.Type == evtUserTyping)
		}
	case evtConnected:
		cs.logf("chat channel %d connected: %s", cs.conversationID, ev.Greeting)
	default:
		cs.logf("chat channel %d: ignoring unknown event %q", cs.conversationID, ev.Type)
	}
}

func (cs *ChatSession) notifyConversationUpdated() {
	if cs.onConversationUpdated != nil {
		cs.onConversationUpdated()
	}
}
