package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/atelier-chat/atelier/internal/engine"
)

// Handler receives decoded lifecycle events from the feed. Delivery happens
// on the feed's read goroutine, in arrival order.
type Handler interface {
	HandleEvent(ev engine.Event)
}

// ConnectionState tracks the feed connection lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// handshakeTimeout bounds one WebSocket dial attempt.
const handshakeTimeout = 10 * time.Second

// Feed maintains the WebSocket subscription to the backend's event stream.
// It reconnects automatically with a rate limit so a dead backend does not
// turn into a dial storm.
type Feed struct {
	url     string
	handler Handler
	logger  *slog.Logger

	// limiter paces reconnect attempts: one every two seconds, with a small
	// burst for the initial connect.
	limiter *rate.Limiter

	mu            sync.RWMutex
	conn          *websocket.Conn
	state         ConnectionState
	onStateChange func(ConnectionState)
}

// FeedOptions configures a Feed.
type FeedOptions struct {
	// URL is the WebSocket endpoint (e.g., "ws://localhost:7323/atelier/ws").
	URL string
	// Handler receives decoded events. Required.
	Handler Handler
	// Logger is the feed logger.
	Logger *slog.Logger
	// OnStateChange, if set, is invoked on connection state transitions.
	OnStateChange func(ConnectionState)
}

// NewFeed creates a feed. Call Run to start it.
func NewFeed(opts FeedOptions) *Feed {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		url:           opts.URL,
		handler:       opts.Handler,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Every(2*time.Second), 3),
		state:         StateDisconnected,
		onStateChange: opts.OnStateChange,
	}
}

// State returns the current connection state.
func (f *Feed) State() ConnectionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) setState(s ConnectionState) {
	f.mu.Lock()
	changed := f.state != s
	f.state = s
	cb := f.onStateChange
	f.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

// Run connects and reads until ctx is cancelled, reconnecting on any
// connection loss. It blocks; run it on its own goroutine.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			f.setState(StateDisconnected)
			return err
		}

		f.setState(StateConnecting)
		conn, err := f.dial(ctx)
		if err != nil {
			f.logger.Warn("Event feed dial failed", "url", f.url, "error", err)
			f.setState(StateDisconnected)
			continue
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		f.setState(StateConnected)
		f.logger.Info("Event feed connected", "url", f.url)

		err = f.readLoop(ctx, conn)
		conn.Close()
		f.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("Event feed disconnected, reconnecting", "error", err)
	}
}

// Close tears down the active connection, unblocking the read loop.
func (f *Feed) Close() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	return conn, err
}

// readLoop reads envelopes until the connection breaks or ctx is cancelled.
// Undecodable messages are logged and skipped; they must not kill the
// subscription.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadJSON when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		ev, err := Decode(msg)
		if err != nil {
			f.logger.Warn("Skipping undecodable event", "type", msg.Type, "error", err)
			continue
		}
		f.handler.HandleEvent(ev)
	}
}
