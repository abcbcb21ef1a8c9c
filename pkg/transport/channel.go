// ABOUTME: WebSocket transport channel with reconnection and outbound queueing
// ABOUTME: Owns the socket, heartbeat, exponential backoff and the send queue
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Converse-Protocol/converse-go/pkg/faultguard"
	"github.com/Converse-Protocol/converse-go/pkg/protocol"
)

// State is the connection lifecycle state. Exactly one state holds at
// any time; the Channel owns it exclusively.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
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
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TokenProvider supplies the bearer token used to authenticate the
// connection. The provider owns any caching; Invalidate discards a
// cached credential after the server rejects it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

const (
	defaultMaxReconnectAttempts = 5
	hardMaxReconnectAttempts    = 10
	defaultInitialDelay         = time.Second
	defaultMaxDelay             = 30 * time.Second
	defaultHeartbeatInterval    = 15 * time.Second
	defaultConnectTimeout       = 10 * time.Second
	defaultQueueCapacity        = 100
	inboundBufferSize           = 100
)

// Config holds channel configuration.
type Config struct {
	// URL is the ws:// or wss:// server endpoint.
	URL string

	// Tokens authenticates the dial when set.
	Tokens TokenProvider

	// Codec is the wire format, fixed for the channel's lifetime.
	// Defaults to the binary codec.
	Codec protocol.Codec

	// MaxReconnectAttempts caps automatic reconnection, itself capped
	// at 10. Default 5.
	MaxReconnectAttempts int

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	HeartbeatInterval     time.Duration
	ConnectTimeout        time.Duration

	// QueueCapacity bounds the outbound queue used while disconnected.
	// The oldest message is dropped on overflow. Default 100.
	QueueCapacity int

	// Guard receives transport and protocol errors.
	Guard *faultguard.Guard

	// OnStateChange is called after every state transition.
	OnStateChange func(State)

	// OnConnectionFailed signals terminal failure: reconnect attempts
	// are exhausted and the channel has stopped retrying.
	OnConnectionFailed func()

	Logger *zap.Logger

	// Dialer overrides the websocket dialer (tests).
	Dialer *websocket.Dialer
}

// Channel maintains one connection to a Converse server. All outbound
// messages pass through Send; inbound decoded messages are delivered on
// the Inbound channel in arrival order.
type Channel struct {
	cfg    Config
	codec  protocol.Codec
	logger *zap.Logger

	mu             sync.Mutex
	writeMu        sync.Mutex
	state          State
	conn           *websocket.Conn
	queue          []protocol.Message
	attempts       int
	intentional    bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	done           chan struct{}

	inbound chan protocol.Message
}

// NewChannel creates a channel. It does not connect.
func NewChannel(cfg Config) *Channel {
	if cfg.Codec == nil {
		cfg.Codec = protocol.BinaryCodec{}
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.MaxReconnectAttempts > hardMaxReconnectAttempts {
		cfg.MaxReconnectAttempts = hardMaxReconnectAttempts
	}
	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = defaultInitialDelay
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = defaultMaxDelay
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Channel{
		cfg:     cfg,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
		state:   StateDisconnected,
		inbound: make(chan protocol.Message, inboundBufferSize),
	}
}

// Connect opens the connection. Calls while already connecting or
// connected are no-ops.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		c.report(err)
		return err
	}
	return nil
}

// dial performs one connection attempt and, on success, installs the
// socket, flushes the queue and starts the reader and heartbeat.
func (c *Channel) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("token acquisition failed: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	}

	c.logger.Info("connecting", zap.String("url", c.cfg.URL))
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateConnected
	queued := c.queue
	c.queue = nil
	c.startHeartbeatLocked()
	done := c.ensureDoneLocked()
	c.mu.Unlock()

	c.notifyState(StateConnected)
	c.logger.Info("connected", zap.Int("queued", len(queued)))

	go c.readLoop(conn, done)

	// Flush in FIFO order. A transmit failure requeues the remainder;
	// the read loop will notice the broken socket and reconnect.
	for i, msg := range queued {
		if err := c.write(conn, msg); err != nil {
			c.mu.Lock()
			c.queue = append(queued[i:], c.queue...)
			c.mu.Unlock()
			c.report(fmt.Errorf("queue flush failed: %w", err))
			break
		}
	}

	return nil
}

// Send transmits a message, or queues it when not connected. A message
// that fails to transmit is requeued at the tail for the next flush.
func (c *Channel) Send(msg protocol.Message) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.enqueueLocked(msg)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, msg); err != nil {
		c.mu.Lock()
		c.enqueueLocked(msg)
		c.mu.Unlock()
		c.report(fmt.Errorf("send failed, requeued %s: %w", msg.Type(), err))
	}
	return nil
}

// write serializes and transmits one message. gorilla allows a single
// concurrent writer, hence writeMu.
func (c *Channel) write(conn *websocket.Conn, msg protocol.Message) error {
	data, isBinary, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	messageType := websocket.TextMessage
	if isBinary {
		messageType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// enqueueLocked appends to the bounded outbound queue, dropping the
// oldest entry on overflow. Caller holds mu.
func (c *Channel) enqueueLocked(msg protocol.Message) {
	if len(c.queue) >= c.cfg.QueueCapacity {
		dropped := c.queue[0]
		c.queue = c.queue[1:]
		c.logger.Warn("outbound queue full, dropped oldest",
			zap.String("dropped", dropped.Type()))
	}
	c.queue = append(c.queue, msg)
}

// readLoop reads and decodes frames until the socket fails or closes.
func (c *Channel) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		msg, err := c.codec.Decode(data, messageType == websocket.BinaryMessage)
		if err != nil {
			// Protocol anomaly, not a fault: drop the frame and move on.
			c.logger.Warn("dropped undecodable frame", zap.Error(err))
			continue
		}

		// Delivery blocks when the consumer lags so no message is ever
		// dropped or reordered; Disconnect unblocks it.
		select {
		case c.inbound <- msg:
		case <-done:
			return
		}
	}
}

// ensureDoneLocked returns the shutdown signal for the current
// connection generation, creating it after a previous Disconnect.
// Caller holds mu.
func (c *Channel) ensureDoneLocked() chan struct{} {
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// handleClose reacts to the socket closing. Intentional closes settle
// into Disconnected; anything else schedules a reconnect.
func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale reader from a connection already replaced.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()

	if c.intentional {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		return
	}

	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) && c.cfg.Tokens != nil {
		// Auth rejection: discard the cached credential so the next
		// attempt fetches a fresh one.
		c.cfg.Tokens.Invalidate()
	}

	c.scheduleReconnectLocked()
	state := c.state
	c.mu.Unlock()

	c.report(fmt.Errorf("connection closed: %w", err))
	c.notifyState(state)
	if state == StateError && c.cfg.OnConnectionFailed != nil {
		c.cfg.OnConnectionFailed()
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt,
// or marks terminal failure when attempts are exhausted. Caller holds mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateError
		c.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", c.attempts))
		return
	}

	delay := backoffDelay(c.attempts, c.cfg.InitialReconnectDelay, c.cfg.MaxReconnectDelay)
	c.attempts++
	c.state = StateReconnecting
	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))

	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
}

// reconnect is the backoff timer callback.
func (c *Channel) reconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.report(err)

		c.mu.Lock()
		c.scheduleReconnectLocked()
		state := c.state
		c.mu.Unlock()

		c.notifyState(state)
		if state == StateError && c.cfg.OnConnectionFailed != nil {
			c.cfg.OnConnectionFailed()
		}
	}
}

// backoffDelay computes min(initial * 2^attempt, max).
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// startHeartbeatLocked starts the periodic ping sender. Caller holds mu.
func (c *Channel) startHeartbeatLocked() {
	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Send(protocol.Ping{})
			case <-stop:
				return
			}
		}
	}()
}

// stopHeartbeatLocked cancels the heartbeat sender. Caller holds mu.
func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// Disconnect closes the channel intentionally. It is idempotent and
// cancels all timers so nothing fires after teardown.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.intentional && c.conn == nil && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	c.notifyState(StateDisconnected)
	c.logger.Info("disconnected")
}

// Inbound returns the channel of decoded inbound messages.
func (c *Channel) Inbound() <-chan protocol.Message {
	return c.inbound
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of messages waiting for the next flush.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) notifyState(s State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func (c *Channel) report(err error) {
	if c.cfg.Guard != nil {
		c.cfg.Guard.Report("transport", err)
	} else {
		c.logger.Error("transport error", zap.Error(err))
	}
}
