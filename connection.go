package mingle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by Conn.Send when the connection is not open.
// Payloads are never queued; the caller must not assume delivery.
var ErrNotConnected = errors.New("mingle: connection not open")

// ConnState is the lifecycle state of a Conn. It is owned exclusively by the
// connection; subscribers observe transitions through ConnHandlers.
type ConnState int

const (
	ConnClosed ConnState = iota
	ConnConnecting
	ConnOpen
	ConnReconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// ConnHandlers are the callbacks a channel consumer registers with a Conn.
// OnMessage receives one decoded-JSON frame at a time; frames that are not
// valid JSON are logged and dropped without closing the connection.
type ConnHandlers struct {
	OnMessage    func(raw json.RawMessage)
	OnConnect    func()
	OnDisconnect func()
}

// ConnConfig tunes the reconnect policy. The zero value gives the production
// schedule: five attempts at 1s, 2s, 4s, 8s, 10s.
type ConnConfig struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *ConnConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 10 * time.Second
	}
}

// backoffDelay returns min(2^attempt * base, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Conn owns one persistent websocket connection for a logical channel and
// its reconnect state machine. A Conn built with an empty URL is disabled:
// it reports ConnClosed, drops sends, and never dials.
type Conn struct {
	url      string
	handlers ConnHandlers
	cfg      ConnConfig
	logf     Logger

	// runCtx outlives individual dials; Close cancels it, which is the
	// single teardown point for the read loop and any in-flight dial.
	runCtx context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	attempts int
	timer    *time.Timer
	closed   bool // consumer teardown; checked before every callback dispatch
}

// NewConn creates a connection handle for url. An empty url yields a
// disabled handle (no subscription target yet, e.g. not authenticated).
// cfg may be nil for defaults; logf may be nil for the default logger.
func NewConn(url string, handlers ConnHandlers, cfg *ConnConfig, logf Logger) *Conn {
	var c ConnConfig
	if cfg != nil {
		c = *cfg
	}
	c.defaults()
	if logf == nil {
		logf = defaultLogger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:      url,
		handlers: handlers,
		cfg:      c,
		logf:     logf,
		runCtx:   ctx,
		cancel:   cancel,
	}
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection is currently open.
func (c *Conn) IsOpen() bool {
	return c.State() == ConnOpen
}

// Connect dials the channel URL. It is a no-op for a disabled handle and
// cancels any pending reconnect timer before dialing. On success the
// reconnect-attempt counter resets to zero and OnConnect fires.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.url == "" || c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.state == ConnOpen || c.state == ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.state = ConnConnecting
	c.mu.Unlock()

	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = ConnClosed
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while the dial was in flight.
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "client closed")
		return nil
	}
	c.ws = ws
	c.state = ConnOpen
	c.attempts = 0
	c.mu.Unlock()

	c.dispatch(c.handlers.OnConnect)
	go c.readLoop(ws)
	return nil
}

// Send marshals payload and writes it as a single text frame. Sends on a
// disabled handle are silently dropped; sends while not open return
// ErrNotConnected.
func (c *Conn) Send(ctx context.Context, payload any) error {
	c.mu.Lock()
	if c.url == "" {
		c.mu.Unlock()
		c.logf("send dropped: channel disabled")
		return nil
	}
	ws := c.ws
	open := c.state == ConnOpen
	c.mu.Unlock()

	if !open || ws == nil {
		c.logf("send dropped: connection not open")
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// Close tears the connection down with an intentional close signal, so no
// reconnect is scheduled. It cancels any pending reconnect timer and stops
// all further callback dispatch. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	ws := c.ws
	c.ws = nil
	wasOpen := c.state == ConnOpen
	c.state = ConnClosed
	c.mu.Unlock()

	c.cancel()
	var err error
	if ws != nil {
		err = ws.Close(websocket.StatusNormalClosure, "client closed")
	}
	if wasOpen && c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect()
	}
	return err
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(c.runCtx)
		if err != nil {
			c.handleClose(err)
			return
		}
		if !json.Valid(data) {
			c.logf("dropped malformed frame (%d bytes)", len(data))
			continue
		}
		c.mu.Lock()
		stale := c.closed || c.ws != ws
		c.mu.Unlock()
		if stale {
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

// handleClose runs when the transport reports closure or error. Intentional
// close codes (1000 normal, 1001 going away) and consumer teardown never
// schedule a reconnect; everything else enters the backoff schedule until
// the attempt limit is reached.
func (c *Conn) handleClose(err error) {
	c.mu.Lock()
	if c.closed || c.ws == nil {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = ConnClosed
	c.mu.Unlock()

	c.dispatch(c.handlers.OnDisconnect)

	code := websocket.CloseStatus(err)
	if code == websocket.StatusNormalClosure || code == websocket.StatusGoingAway {
		return
	}
	c.scheduleReconnect(err)
}

func (c *Conn) scheduleReconnect(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logf("reconnect abandoned after %d attempts: %v", c.attempts, cause)
		return
	}
	delay := backoffDelay(c.attempts, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	c.attempts++
	c.state = ConnReconnecting
	c.logf("connection lost (%v); reconnect %d/%d in %s", cause, c.attempts, c.cfg.MaxReconnectAttempts, delay)
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, c.redial)
}

func (c *Conn) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = ConnClosed
	c.mu.Unlock()

	if err := c.Connect(c.runCtx); err != nil {
		c.scheduleReconnect(err)
	}
}

// stopTimerLocked cancels a pending reconnect timer. Caller holds mu.
func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// dispatch invokes a state callback unless the consumer has torn down.
func (c *Conn) dispatch(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	stale := c.closed
	c.mu.Unlock()
	if !stale {
		fn()
	}
}
