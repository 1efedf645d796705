package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Camsync/internal/dns"
	"github.com/BioHazard786/Camsync/internal/version"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// drainWait bounds how long Disconnect waits for queued messages to be written.
	drainWait = 2 * time.Second
)

var (
	ErrChannelUnavailable  = errors.New("signaling channel unavailable")
	ErrChannelDisconnected = errors.New("signaling channel disconnected")
)

// Option configures a Client.
type Option func(*Client)

// WithReconnect sets the bounded dial policy: attempts dials in total, interval apart.
func WithReconnect(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithResolver routes dials through r. A nil resolver uses the system dialer.
func WithResolver(r *dns.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// Client is the WebSocket connection to the signaling relay. It reconnects on
// its own and never interprets payloads.
type Client struct {
	serverURL string
	attempts  int
	interval  time.Duration
	resolver  *dns.Resolver
	log       *slog.Logger
	handlers  registry

	outgoing  chan *Envelope
	flush     chan chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	conn      *websocket.Conn
	carry     *Envelope
	started   bool
	connected bool
}

// NewClient creates a new signaling client
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL: serverURL,
		attempts:  5,
		interval:  time.Second,
		resolver:  dns.NewResolver(),
		log:       slog.Default(),
		outgoing:  make(chan *Envelope, 64),
		flush:     make(chan chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "signaling")
	return c
}

// Connect establishes the WebSocket connection, retrying per the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.serverURL); err != nil {
		return fmt.Errorf("%w: invalid server URL: %v", ErrChannelUnavailable, err)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("signaling client already connected")
	}
	c.started = true
	c.mu.Unlock()

	if c.isClosed() {
		return ErrChannelDisconnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if !c.adopt(conn) {
		return ErrChannelDisconnected
	}

	c.log.Debug("connected to relay", "url", c.serverURL)
	go c.run(conn)
	return nil
}

// Send queues an event for delivery. Messages queued while reconnecting are
// written once the connection is back.
func (c *Client) Send(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	if c.isClosed() {
		return ErrChannelDisconnected
	}

	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrChannelDisconnected
	}
}

// On subscribes fn to event and returns a function that unsubscribes it.
func (c *Client) On(event string, fn Handler) (off func()) {
	return c.handlers.add(event, fn)
}

// Connected reports whether a live relay connection exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.isClosed()
}

// Done is closed once the client is disconnected for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Disconnect writes what is already queued, then closes the connection and
// stops reconnecting. Safe to call more than once.
func (c *Client) Disconnect() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.drain()
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.connected = false
		c.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			conn.Close()
		}
	})
}

// drain asks the write pump to flush the outgoing queue and waits for it, at
// most drainWait. Without a live connection there is nothing to flush.
func (c *Client) drain() {
	if !c.Connected() {
		return
	}

	timer := time.NewTimer(drainWait)
	defer timer.Stop()

	ack := make(chan struct{})
	select {
	case c.flush <- ack:
	case <-timer.C:
		c.log.Debug("write pump busy, dropping queued messages", "queued", len(c.outgoing))
		return
	}
	select {
	case <-ack:
	case <-timer.C:
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// adopt installs conn as the current connection unless the client was closed meanwhile.
func (c *Client) adopt(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		conn.Close()
		return false
	}
	c.conn = conn
	c.connected = true
	return true
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}
	header := http.Header{"User-Agent": []string{version.UserAgent()}}

	var conn *websocket.Conn
	op := func() error {
		cn, resp, err := dialer.DialContext(ctx, c.serverURL, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("relay rejected handshake: %s", resp.Status))
			}
			return err
		}
		conn = cn
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), uint64(c.attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.log.Warn("relay dial failed, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// run owns the connection lifecycle: pumps, then reconnect until the policy gives up.
func (c *Client) run(conn *websocket.Conn) {
	for {
		stop := make(chan struct{})
		writerDone := make(chan struct{})
		go func() {
			c.writePump(conn, stop)
			close(writerDone)
		}()

		c.readPump(conn)
		close(stop)
		conn.Close()
		<-writerDone

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		if c.isClosed() {
			return
		}

		c.log.Warn("relay connection lost, reconnecting")
		c.handlers.dispatch(&Envelope{Event: EventConnectionLost})

		next, err := c.dial(context.Background())
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Error("relay reconnect failed", "error", err, "attempts", c.attempts)
			c.shutdown()
			c.handlers.dispatch(&Envelope{Event: EventDisconnected})
			return
		}
		if !c.adopt(next) {
			return
		}

		conn = next
		c.log.Info("reconnected to relay")
		c.handlers.dispatch(&Envelope{Event: EventReconnected})
	}
}

// readPump reads envelopes and dispatches them until the connection fails.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("relay read failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn("dropping malformed relay message", "bytes", len(data))
			continue
		}
		env.Event = canonical(env.Event)
		c.handlers.dispatch(&env)
	}
}

// writePump writes queued envelopes and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if env := c.takeCarry(); env != nil {
		if !c.write(conn, env) {
			return
		}
	}

	for {
		select {
		case env := <-c.outgoing:
			if !c.write(conn, env) {
				return
			}

		case ack := <-c.flush:
			ok := c.flushQueued(conn)
			close(ack)
			if !ok {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-stop:
			return

		case <-c.done:
			return
		}
	}
}

// flushQueued writes everything currently queued without waiting for more.
func (c *Client) flushQueued(conn *websocket.Conn) bool {
	for {
		select {
		case env := <-c.outgoing:
			if !c.write(conn, env) {
				return false
			}
		default:
			return true
		}
	}
}

// write sends env; on failure env is kept for the next connection.
func (c *Client) write(conn *websocket.Conn, env *Envelope) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		c.mu.Lock()
		c.carry = env
		c.mu.Unlock()
		conn.Close()
		return false
	}
	return true
}

func (c *Client) takeCarry() *Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	env := c.carry
	c.carry = nil
	return env
}
