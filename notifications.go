package mingle

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
)

// ============================================================================
// Alerts
// ============================================================================

// AlertPermission mirrors the runtime notification permission state.
type AlertPermission int

const (
	PermissionDefault AlertPermission = iota // not yet decided
	PermissionGranted
	PermissionDenied
)

// Alerter raises user-facing alerts for incoming notifications. The
// notification stream is the only component that calls RequestPermission,
// and only while authenticated with the permission still undecided. Alerts
// are tagged by notification ID so repeat delivery of the same ID replaces
// rather than stacks.
type Alerter interface {
	Permission() AlertPermission
	RequestPermission()
	Alert(tag string, n Notification)
}

// ============================================================================
// Notification stream
// ============================================================================

// NotificationStream is the single per-session channel carrying out-of-band
// events: notifications, presence, cross-conversation new-message signals,
// and fatal auth errors. It is disabled (never connects) when constructed
// without a URL, i.e. while unauthenticated.
type NotificationStream struct {
	conn    *Conn
	tracker *PresenceTracker
	cache   *ConversationCache
	alerter Alerter
	logf    Logger

	onAuthError  func()
	onNewMessage func()

	mu            sync.Mutex
	notifications []Notification
	unread        int

	onNotification   []func(Notification)
	onPresenceChange []func(PresenceChange)
}

func newNotificationStream(url string, tracker *PresenceTracker, cache *ConversationCache,
	alerter Alerter, cfg *ConnConfig, logf Logger, onAuthError, onNewMessage func()) *NotificationStream {
	if logf == nil {
		logf = defaultLogger
	}
	s := &NotificationStream{
		tracker:      tracker,
		cache:        cache,
		alerter:      alerter,
		logf:         logf,
		onAuthError:  onAuthError,
		onNewMessage: onNewMessage,
	}
	s.conn = NewConn(url, ConnHandlers{OnMessage: s.handleFrame}, cfg, logf)
	return s
}

// OnNotification registers an observer for newly delivered notifications.
// Duplicate deliveries of an already-seen ID do not fire it.
func (s *NotificationStream) OnNotification(h func(Notification)) {
	s.mu.Lock()
	s.onNotification = append(s.onNotification, h)
	s.mu.Unlock()
}

// OnPresenceChange registers an observer for incremental presence changes.
func (s *NotificationStream) OnPresenceChange(h func(PresenceChange)) {
	s.mu.Lock()
	s.onPresenceChange = append(s.onPresenceChange, h)
	s.mu.Unlock()
}

// Start connects the stream. While authenticated and with the alert
// permission still undecided, it first asks for permission.
func (s *NotificationStream) Start(ctx context.Context) error {
	if s.conn.url != "" && s.alerter != nil && s.alerter.Permission() == PermissionDefault {
		s.alerter.RequestPermission()
	}
	return s.conn.Connect(ctx)
}

// Close tears the stream down; no reconnect follows.
func (s *NotificationStream) Close() error {
	return s.conn.Close()
}

// State returns the underlying connection state.
func (s *NotificationStream) State() ConnState {
	return s.conn.State()
}

// handleFrame is the single decode-and-switch point for the notification
// channel. Malformed frames are logged and dropped; unknown types are
// ignored for forward compatibility.
func (s *NotificationStream) handleFrame(raw json.RawMessage) {
	ev, err := decodeNotificationEvent(raw)
	if err != nil {
		s.logf("notification channel: %v", err)
		return
	}

	switch ev.Type {
	case evtPresenceInit:
		s.tracker.Replace(ev.PresenceInit)
	case evtPresence:
		s.tracker.Apply(ev.Presence.UserID, ev.Presence.IsOnline)
		s.mu.Lock()
		observers := append(([]func(PresenceChange))(nil), s.onPresenceChange...)
		s.mu.Unlock()
		for _, h := range observers {
			h(*ev.Presence)
		}
	case evtNotification:
		s.addNotification(*ev.Notification)
	case evtNewMessage:
		// Cross-conversation path: bump the session counter and force a
		// conversation-list refetch. Per-conversation pages are untouched.
		s.cache.NoteNewMessage()
		if s.onNewMessage != nil {
			s.onNewMessage()
		}
	case evtConnected:
		s.logf("notification channel connected: %s", ev.Greeting)
	case evtAuthError, evtTokenExpired:
		s.logf("notification channel: fatal %s", ev.Type)
		if s.onAuthError != nil {
			s.onAuthError()
		}
	default:
		s.logf("notification channel: ignoring unknown event %q", ev.Type)
	}
}

// addNotification merges one notification into the list: dedupe by ID
// keeping the newer CreatedAt, re-sort newest first, and raise an alert for
// genuinely new unread entries.
func (s *NotificationStream) addNotification(n Notification) {
	s.mu.Lock()
	isNew := true
	for i, existing := range s.notifications {
		if existing.ID != n.ID {
			continue
		}
		isNew = false
		if n.CreatedAt > existing.CreatedAt {
			s.notifications[i] = n
		}
		break
	}
	if isNew {
		s.notifications = append(s.notifications, n)
		if !n.IsRead {
			s.unread++
		}
	}
	sort.SliceStable(s.notifications, func(i, j int) bool {
		return s.notifications[i].CreatedAt > s.notifications[j].CreatedAt
	})
	observers := append(([]func(Notification))(nil), s.onNotification...)
	s.mu.Unlock()

	if !isNew {
		return
	}
	if s.alerter != nil && s.alerter.Permission() == PermissionGranted {
		s.alerter.Alert(strconv.FormatInt(n.ID, 10), n)
	}
	for _, h := range observers {
		h(n)
	}
}

// Notifications returns a copy of the notification list, newest first.
func (s *NotificationStream) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// Unread returns the unread-notification counter.
func (s *NotificationStream) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// MarkRead flips the given notification IDs to read and decrements the
// unread counter for each one actually flipped, never below zero.
func (s *NotificationStream) MarkRead(ids ...int64) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if _, ok := want[n.ID]; !ok || n.IsRead {
			continue
		}
		s.notifications[i].IsRead = true
		if s.unread > 0 {
			s.unread--
		}
	}
}
