package mingle

import (
	"encoding/json"
	"fmt"
)

// Every frame on either channel is a JSON object with a "type" tag. Frames
// are decoded into a closed set of typed events at this boundary; anything
// that does not match is rejected here so the rest of the SDK never touches
// untyped data.

// ============================================================================
// Inbound: notification channel
// ============================================================================

// Notification channel event types.
const (
	evtPresenceInit = "presence_init"
	evtPresence     = "presence"
	evtNotification = "notification"
	evtNewMessage   = "new_message"
	evtConnected    = "connected"
	evtAuthError    = "auth_error"
	evtTokenExpired = "token_expired"
)

// Chat channel event types.
const (
	evtChatMessage         = "chat_message"
	evtMessageUpdated      = "message_updated"
	evtConversationUpdated = "conversation_updated"
	evtUserTyping          = "user_typing"
	evtUserStoppedTyping   = "user_stopped_typing"
)

// Outbound chat frame types.
const (
	evtStartTyping = "start_typing"
	evtStopTyping  = "stop_typing"
)

// NotificationEvent is one decoded frame from the notification channel.
// Exactly one payload field is set, matching Type.
type NotificationEvent struct {
	Type string

	// presence_init: the full set of online user IDs.
	PresenceInit []int64
	// presence: a single incremental presence change.
	Presence *PresenceChange
	// notification: the delivered notification.
	Notification *Notification
	// connected: the server greeting.
	Greeting string
}

// PresenceChange is a single user going online or offline.
type PresenceChange struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// ChatEvent is one decoded frame from a chat channel.
type ChatEvent struct {
	Type string

	// chat_message, new_message, message_updated: the message payload.
	Message *Message
	// user_typing, user_stopped_typing: the typing user.
	From int64
	// connected: the server greeting.
	Greeting string
}

// envelope is the raw wire shape shared by both channels.
type envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	From    int64           `json:"from,omitempty"`
}

// decodeNotificationEvent decodes a notification-channel frame.
func decodeNotificationEvent(raw []byte) (*NotificationEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	ev := &NotificationEvent{Type: env.Type}
	switch env.Type {
	case evtPresenceInit:
		if err := json.Unmarshal(env.Data, &ev.PresenceInit); err != nil {
			return nil, fmt.Errorf("decode presence_init: %w", err)
		}
	case evtPresence:
		ev.Presence = &PresenceChange{}
		if err := json.Unmarshal(env.Data, ev.Presence); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
	case evtNotification:
		ev.Notification = &Notification{}
		if err := json.Unmarshal(env.Data, ev.Notification); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
	case evtNewMessage, evtAuthError, evtTokenExpired:
		// No payload.
	case evtConnected:
		ev.Greeting = env.Message
	case "":
		return nil, fmt.Errorf("frame missing type tag")
	}
	return ev, nil
}

// decodeChatEvent decodes a chat-channel frame.
func decodeChatEvent(raw []byte) (*ChatEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	ev := &ChatEvent{Type: env.Type}
	switch env.Type {
	case evtChatMessage, evtNewMessage, evtMessageUpdated:
		ev.Message = &Message{}
		if err := json.Unmarshal(env.Data, ev.Message); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	case evtUserTyping, evtUserStoppedTyping:
		ev.From = env.From
	case evtConnected:
		ev.Greeting = env.Message
	case evtConversationUpdated:
		// No payload.
	case "":
		return nil, fmt.Errorf("frame missing type tag")
	}
	return ev, nil
}

// ============================================================================
// Outbound: chat channel
// ============================================================================

type outboundChatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type outboundTyping struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
}
