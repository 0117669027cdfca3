// Package mingle is the Go client SDK for the Mingle social network's
// real-time messaging layer: the notification stream, per-conversation chat
// channels, presence tracking, and the cache reconciliation that keeps
// push-delivered events consistent with the REST-fetched data.
//
// Example:
//
//	client := mingle.NewClient(token)
//	session, _ := mingle.NewSession(client)
//	_ = session.Start(ctx)
//
//	chat, _ := session.OpenChat(ctx, 42, nil)
//	chat.SendMessage(ctx, "hello!", nil)
package mingle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://mingle.social"
	// DefaultTimeout bounds individual REST requests. The websocket
	// channels are not subject to it.
	DefaultTimeout = 30 * time.Second

	// maxAttachmentSize caps uploads at 25 MB, matching the server limit.
	maxAttachmentSize = 25 * 1024 * 1024
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST collaborator: conversation and message CRUD, the
// multipart attachment path, friendships and event summaries. The realtime
// components consume it for cache refetches and the attachment fallback.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logf       Logger

	Conversations *ConversationsClient
	Messages      *MessagesClient
	Attachments   *AttachmentsClient
	Friends       *FriendsClient
	Events        *EventsClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a non-production host.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the REST request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger routes SDK diagnostics somewhere other than stdlib log.
func WithLogger(logf Logger) ClientOption {
	return func(c *Client) { c.logf = logf }
}

// NewClient creates a Mingle API client. token is the session token from
// the authentication flow; pass "" for an unauthenticated client (realtime
// channels stay disabled until SetToken).
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logf:       defaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Conversations = &ConversationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Attachments = &AttachmentsClient{c: c}
	c.Friends = &FriendsClient{c: c}
	c.Events = &EventsClient{c: c}
	return c
}

// SetToken replaces the session token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *Client) Token() string {
	return c.token
}

// ============================================================================
// Channel URLs
// ============================================================================

func (c *Client) wsBase() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// NotificationStreamURL returns the notification channel URL for a user, or
// "" when userID is zero (no subscription target).
func (c *Client) NotificationStreamURL(userID int64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf("%s/ws/notifications?userId=%d", c.wsBase(), userID)
}

// ChatChannelURL returns the chat channel URL for one open conversation.
func (c *Client) ChatChannelURL(userID, conversationID int64) string {
	if userID == 0 || conversationID == 0 {
		return ""
	}
	return fmt.Sprintf("%s/ws/chat?userId=%d&conversationId=%d", c.wsBase(), userID, conversationID)
}

// ============================================================================
// Internal request helpers
// ============================================================================

// errorEnvelope is the API's error body shape.
type errorEnvelope struct {
	Error *APIError `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func apiErrorFrom(status int, body []byte) error {
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return env.Error
	}
	return &APIError{Code: "HTTP_" + strconv.Itoa(status), Message: http.StatusText(status)}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = strconv.Itoa(opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient manages conversation metadata and membership.
type ConversationsClient struct{ c *Client }

// List fetches the conversation list with unread counts, most recent first.
func (cc *ConversationsClient) List(ctx context.Context, opts *PageOptions) ([]Conversation, error) {
	data, err := cc.c.doRequest(ctx, "GET", "/api/conversations", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// Get fetches one conversation.
func (cc *ConversationsClient) Get(ctx context.Context, conversationID int64) (*Conversation, error) {
	data, err := cc.c.doRequest(ctx, "GET", convPath(conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// CreateDirect creates (or returns) the direct conversation with a user.
func (cc *ConversationsClient) CreateDirect(ctx context.Context, userID int64) (*Conversation, error) {
	data, err := cc.c.doRequest(ctx, "POST", "/api/conversations/direct",
		map[string]int64{"userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// CreateGroup creates a group conversation.
func (cc *ConversationsClient) CreateGroup(ctx context.Context, opts *CreateGroupOptions) (*Conversation, error) {
	data, err := cc.c.doRequest(ctx, "POST", "/api/conversations/group", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Rename updates a group conversation's name.
func (cc *ConversationsClient) Rename(ctx context.Context, conversationID int64, name string) error {
	_, err := cc.c.doRequest(ctx, "PATCH", convPath(conversationID),
		map[string]string{"name": name}, nil)
	return err
}

// Leave removes the authenticated user from a conversation.
func (cc *ConversationsClient) Leave(ctx context.Context, conversationID int64) error {
	_, err := cc.c.doRequest(ctx, "POST", convPath(conversationID)+"/leave", nil, nil)
	return err
}

// AddParticipant adds a user to a group conversation.
func (cc *ConversationsClient) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := cc.c.doRequest(ctx, "POST", convPath(conversationID)+"/participants",
		map[string]int64{"userId": userID}, nil)
	return err
}

// RemoveParticipant removes a user from a group conversation.
func (cc *ConversationsClient) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := cc.c.doRequest(ctx, "DELETE",
		fmt.Sprintf("%s/participants/%d", convPath(conversationID), userID), nil, nil)
	return err
}

// MarkRead acknowledges the given message IDs as read.
func (cc *ConversationsClient) MarkRead(ctx context.Context, conversationID int64, messageIDs []int64) error {
	_, err := cc.c.doRequest(ctx, "POST", convPath(conversationID)+"/read",
		map[string][]int64{"messageIds": messageIDs}, nil)
	return err
}

func convPath(conversationID int64) string {
	return "/api/conversations/" + strconv.FormatInt(conversationID, 10)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history and text sends over REST.
type MessagesClient struct{ c *Client }

// History fetches a page of messages, oldest first within the page. Use
// Before as the pagination cursor to walk into older history.
func (mc *MessagesClient) History(ctx context.Context, conversationID int64, opts *MessageHistoryOptions) ([]Message, error) {
	var q map[string]string
	if opts != nil {
		q = map[string]string{}
		if opts.Limit > 0 {
			q["limit"] = strconv.Itoa(opts.Limit)
		}
		if opts.Before > 0 {
			q["before"] = strconv.FormatInt(opts.Before, 10)
		}
		if len(q) == 0 {
			q = nil
		}
	}
	data, err := mc.c.doRequest(ctx, "GET", convPath(conversationID)+"/messages", nil, q)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// Send posts a text message over REST. The realtime path in ChatSession is
// preferred for open conversations; this exists for callers without a
// channel. The request carries an idempotency key so a retried send cannot
// duplicate the message.
func (mc *MessagesClient) Send(ctx context.Context, conversationID int64, content string) (*Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	data, err := mc.c.doIdempotent(ctx, "POST", convPath(conversationID)+"/messages",
		map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// Edit updates a message's content.
func (mc *MessagesClient) Edit(ctx context.Context, conversationID, messageID int64, content string) (*Message, error) {
	data, err := mc.c.doRequest(ctx, "PATCH",
		fmt.Sprintf("%s/messages/%d", convPath(conversationID), messageID),
		map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// Delete removes a message.
func (mc *MessagesClient) Delete(ctx context.Context, conversationID, messageID int64) error {
	_, err := mc.c.doRequest(ctx, "DELETE",
		fmt.Sprintf("%s/messages/%d", convPath(conversationID), messageID), nil, nil)
	return err
}

// doIdempotent is doRequest plus an Idempotency-Key header.
func (c *Client) doIdempotent(ctx context.Context, method, path string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}
	return data, nil
}

// ============================================================================
// Attachments
// ============================================================================

// AttachmentsClient implements the request/response upload path that
// ChatSession falls back to for payloads with files; sockets are reserved
// for small text frames.
type AttachmentsClient struct{ c *Client }

// Send uploads a file with optional accompanying text and returns the
// created message.
func (ac *AttachmentsClient) Send(ctx context.Context, conversationID int64, content string, file Attachment) (*Message, error) {
	if file.FileName == "" {
		return nil, fmt.Errorf("mingle: attachment needs a file name")
	}
	if len(file.Data) > maxAttachmentSize {
		return nil, fmt.Errorf("mingle: attachment exceeds maximum size of 25 MB")
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(file.FileName)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", file.FileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("write file data: %w", err)
	}
	if err := w.WriteField("mimeType", mimeType); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		ac.c.baseURL+convPath(conversationID)+"/messages/attachment", &buf)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Idempotency-Key", uuid.NewString())
	ac.c.setAuthHeader(req)

	resp, err := ac.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiErrorFrom(resp.StatusCode, data)
	}
	return decodeJSON[Message](data)
}

// guessMimeType returns a MIME type from the file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".webp": "image/webp", ".webm": "video/webm",
		".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// ============================================================================
// Friends
// ============================================================================

// FriendsClient covers the friendship surface the notification stream
// reports on.
type FriendsClient struct{ c *Client }

// List returns the authenticated user's friends.
func (fc *FriendsClient) List(ctx context.Context) ([]User, error) {
	data, err := fc.c.doRequest(ctx, "GET", "/api/friends", nil, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]User](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// Request sends a friend request.
func (fc *FriendsClient) Request(ctx context.Context, userID int64) (*FriendRequest, error) {
	data, err := fc.c.doRequest(ctx, "POST", "/api/friends/requests",
		map[string]int64{"userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[FriendRequest](data)
}

// Accept accepts a pending friend request.
func (fc *FriendsClient) Accept(ctx context.Context, requestID int64) error {
	_, err := fc.c.doRequest(ctx, "POST",
		fmt.Sprintf("/api/friends/requests/%d/accept", requestID), nil, nil)
	return err
}

// ============================================================================
// Events
// ============================================================================

// EventsClient exposes event summaries and RSVPs. Full event management
// stays in the web application.
type EventsClient struct{ c *Client }

// List returns upcoming events.
func (ec *EventsClient) List(ctx context.Context, opts *PageOptions) ([]EventSummary, error) {
	data, err := ec.c.doRequest(ctx, "GET", "/api/events", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]EventSummary](data)
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// RSVP sets the user's RSVP status ("going", "maybe", "declined").
func (ec *EventsClient) RSVP(ctx context.Context, eventID int64, status string) error {
	_, err := ec.c.doRequest(ctx, "POST",
		fmt.Sprintf("/api/events/%d/rsvp", eventID),
		map[string]string{"status": status}, nil)
	return err
}
