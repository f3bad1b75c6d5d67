// Package relay maintains the node's persistent websocket link to the hub
// relay. It owns connection state, authenticated (re)connects and the framed
// read/write paths; message semantics live above it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/hubauth"
)

var (
	// ErrNotConnected is returned by Emit while the link is down.
	ErrNotConnected = errors.New("relay: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay: connection closed")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateListener receives connection state change notifications.
type StateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// TokenSource yields a currently valid access token for a host. A fresh
// token is requested before every connection attempt so a reconnect never
// presents expired credentials.
type TokenSource interface {
	TokenFor(ctx context.Context, host string) (hubauth.Token, error)
}

// Receiver consumes one inbound frame. Each frame is dispatched on its own
// goroutine, so a receiver may block on I/O without stalling the socket;
// ordering across frames is not preserved.
type Receiver func(frame contracts.InboundFrame)

// ConnectionError describes a failed connect or emit.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Connection manages the websocket link with automatic reconnection.
// Reconnection never gives up: the link retries with exponential backoff
// until Close.
type Connection struct {
	url      string
	host     string
	tokens   TokenSource
	receiver Receiver
	logger   *slog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
	dialer    *websocket.Dialer

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State

	// writeMu serializes writers; gorilla permits one concurrent writer.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// ConnectionOption configures the Connection.
type ConnectionOption func(*Connection)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(base, max time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(dialer *websocket.Dialer) ConnectionOption {
	return func(c *Connection) {
		c.dialer = dialer
	}
}

// NewConnection creates a connection manager for the relay endpoint. The
// receiver is invoked for every inbound frame once Connect has succeeded.
func NewConnection(rawURL string, tokens TokenSource, receiver Receiver, options ...ConnectionOption) (*Connection, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnectionError{Op: "parse", URL: rawURL, Err: err}
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, &ConnectionError{Op: "parse", URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", endpoint.Scheme)}
	}

	c := &Connection{
		url:       rawURL,
		host:      endpoint.Host,
		tokens:    tokens,
		receiver:  receiver,
		logger:    slog.Default(),
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
		dialer:    websocket.DefaultDialer,
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Connect establishes the initial connection. Once it returns nil the link
// is live and stays live until Close: any later drop triggers the internal
// reconnect loop.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("connected to relay", "url", c.url)
	c.notifyConnected()

	go c.readLoop(conn)
	return nil
}

// Emit sends an outbound frame. The link must be connected; callers decide
// whether a failed emit is retried.
func (c *Connection) Emit(_ context.Context, frame contracts.OutboundFrame) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return &ConnectionError{Op: "emit", URL: c.url, Err: err}
	}
	return nil
}

// CurrentState returns the connection state.
func (c *Connection) CurrentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Close tears the link down permanently. Emit returns ErrNotConnected and
// no further reconnects are attempted.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		c.logger.Info("relay connection closed")
	})
	return err
}

// AddStateListener registers a connection state listener.
func (c *Connection) AddStateListener(listener StateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.TokenFor(ctx, c.host)
	if err != nil {
		return nil, &ConnectionError{Op: "authenticate", URL: c.url, Err: err}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token.Value)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Op: "dial", URL: c.url, Err: err}
	}
	return conn, nil
}

// readLoop pumps inbound frames to the receiver until the socket fails,
// then hands off to the reconnect loop.
func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.logger.Error("relay read failed", "error", err)
			c.mu.Lock()
			c.conn = nil
			c.state = StateReconnecting
			c.mu.Unlock()

			c.notifyDisconnected(err)
			c.reconnect()
			return
		}

		var frame contracts.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding malformed relay frame", "error", err)
			continue
		}
		if c.receiver != nil {
			// Frame processing does blocking I/O (key lookup, webhook
			// delivery) and must not run on the goroutine that detects
			// disconnects.
			go c.receiver(frame)
		}
	}
}

// reconnect redials until it succeeds or the connection is closed. Each
// attempt re-authenticates first, so tokens that expired during the outage
// are replaced before the handshake.
func (c *Connection) reconnect() {
	attempt := 0
	started := time.Now()

	for {
		attempt++
		c.notifyReconnecting(attempt)

		delay := c.backoff(attempt)
		c.logger.Info("reconnecting to relay", "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Error("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		select {
		case <-c.done:
			conn.Close()
			return
		default:
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		c.logger.Info("reconnected to relay", "attempts", attempt, "downtime", time.Since(started))
		c.notifyConnected()

		go c.readLoop(conn)
		return
	}
}

// backoff grows exponentially from baseDelay, capped at maxDelay. Jitter
// subtracts up to 25% so a fleet of nodes does not redial in lockstep;
// maxDelay stays a hard upper bound.
func (c *Connection) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			delay = c.maxDelay
			break
		}
	}
	jitter := time.Duration(float64(delay) * 0.25 * rand.Float64())
	return delay - jitter
}

func (c *Connection) notifyConnected() {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, listener := range c.listeners {
		go listener.OnConnected()
	}
}

func (c *Connection) notifyDisconnected(err error) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, listener := range c.listeners {
		go listener.OnDisconnected(err)
	}
}

func (c *Connection) notifyReconnecting(attempt int) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, listener := range c.listeners {
		go listener.OnReconnecting(attempt)
	}
}
