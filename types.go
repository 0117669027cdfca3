package mingle

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Mingle API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// User is a Mingle account as seen by other users.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Message is a single chat message inside a conversation.
// CreatedAt is an RFC 3339 timestamp as returned by the server.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversationId"`
	SenderID       int64           `json:"senderId"`
	Content        string          `json:"content"`
	AttachmentURL  string          `json:"attachmentUrl,omitempty"`
	IsRead         bool            `json:"isRead"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Conversation is the cached summary driving the conversation list:
// participants, last message preview and unread count.
type Conversation struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name,omitempty"`
	IsGroup      bool     `json:"isGroup"`
	Participants []User   `json:"participants,omitempty"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// Notification is an out-of-band event delivered on the notification
// channel: new message arrived, friend request, event invite, and so on.
type Notification struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	ActorID   int64  `json:"actorId,omitempty"`
	Content   string `json:"content"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// FriendRequest is a pending or resolved friendship request.
type FriendRequest struct {
	ID        int64  `json:"id"`
	From      User   `json:"from"`
	To        User   `json:"to"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// EventSummary is the thin event view the SDK exposes; full event CRUD
// lives behind the web application.
type EventSummary struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	StartsAt    string `json:"startsAt"`
	Location    string `json:"location,omitempty"`
	Attending   int    `json:"attending"`
	MyRSVP      string `json:"myRsvp,omitempty"`
	CategoryID  int64  `json:"categoryId,omitempty"`
	Description string `json:"description,omitempty"`
}

// Attachment is a file to be sent with a message. Attachments always go
// through the multipart upload endpoint, never over the socket.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// ============================================================================
// Request Options
// ============================================================================

// PageOptions controls paginated list endpoints.
type PageOptions struct {
	Limit  int
	Offset int
}

// MessageHistoryOptions controls message pagination. Before is an exclusive
// message-ID cursor: only messages older than it are returned.
type MessageHistoryOptions struct {
	Limit  int
	Before int64
}

// CreateGroupOptions configures group conversation creation.
type CreateGroupOptions struct {
	Name         string  `json:"name"`
	Participants []int64 `json:"participants"`
}
