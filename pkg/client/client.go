// ABOUTME: Protocol client with the turn-based event state machine
// ABOUTME: Filters stale events per turn and re-exposes a clean event surface
package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Converse-Protocol/converse-go/pkg/protocol"
)

// Transport is the subset of the transport channel the client consumes.
type Transport interface {
	Send(protocol.Message) error
	Inbound() <-chan protocol.Message
}

// turnSwitch names the transition that adopts a new current turn.
type turnSwitch int

const (
	// switchExplicit is an AudioStart announcing the turn.
	switchExplicit turnSwitch = iota
	// switchImplicit is a mid-stream frame carrying an unseen turn id,
	// adopted for robustness when the AudioStart was dropped.
	switchImplicit
)

// Handlers receives the filtered event stream. Nil handlers are
// skipped. Handlers run on the client's event loop; they must not block.
type Handlers struct {
	AudioStart      func(turnID, sessionID string)
	Audio           func(turnID string, pcm []byte, timestamp uint32)
	AnimationFrame  func(weights protocol.Weights)
	AudioEnd        func(turnID string)
	TranscriptDelta func(turnID, text string)
	TranscriptDone  func(turnID, finalText string)
	Interrupted     func(turnID string, offsetMs int)
	AvatarState     func(state string)
	Pong            func()
}

// Config holds protocol client configuration.
type Config struct {
	Transport Transport
	Handlers  Handlers
	Logger    *zap.Logger
}

// Client enforces the turn and session invariants of the Converse
// Protocol: at most one current turn, and a finalized set of turn ids
// whose transcript deltas must no longer be delivered.
type Client struct {
	transport Transport
	handlers  Handlers
	logger    *zap.Logger

	mu        sync.Mutex
	turnID    string
	sessionID string
	finalized map[string]struct{}
	disposed  bool
}

// New creates a protocol client over an existing transport.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: cfg.Transport,
		handlers:  cfg.Handlers,
		logger:    logger,
		finalized: make(map[string]struct{}),
	}
}

// Run consumes the transport's inbound stream until the context is
// cancelled or the stream closes. Events are handled in arrival order.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.transport.Inbound():
			if !ok {
				return
			}
			c.Handle(msg)
		}
	}
}

// Handle applies one inbound message to the turn state machine and
// forwards it if it survives filtering.
func (c *Client) Handle(msg protocol.Message) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}

	switch m := msg.(type) {
	case protocol.AudioStart:
		c.adoptTurnLocked(m.TurnID, m.SessionID, switchExplicit)
		c.mu.Unlock()
		if c.handlers.AudioStart != nil {
			c.handlers.AudioStart(m.TurnID, m.SessionID)
		}

	case protocol.SyncFrame:
		if m.TurnID != "" && m.TurnID != c.turnID {
			c.adoptTurnLocked(m.TurnID, m.SessionID, switchImplicit)
		}
		turnID := c.turnID
		c.mu.Unlock()
		if c.handlers.Audio != nil && len(m.Audio) > 0 {
			c.handlers.Audio(turnID, m.Audio, m.Timestamp)
		}
		if c.handlers.AnimationFrame != nil {
			c.handlers.AnimationFrame(m.Weights)
		}

	case protocol.AudioChunk:
		turnID := c.turnID
		c.mu.Unlock()
		if c.handlers.Audio != nil {
			c.handlers.Audio(turnID, m.Data, m.Timestamp)
		}

	case protocol.BlendShapes:
		c.mu.Unlock()
		if c.handlers.AnimationFrame != nil {
			c.handlers.AnimationFrame(m.Weights)
		}

	case protocol.AudioEnd:
		// End-of-stream is advisory. A mismatched turn id means the
		// turn was already superseded; drop without touching playback.
		if m.TurnID != c.turnID {
			c.mu.Unlock()
			c.logger.Debug("dropped stale audio_end", zap.String("turn", m.TurnID))
			return
		}
		c.mu.Unlock()
		if c.handlers.AudioEnd != nil {
			c.handlers.AudioEnd(m.TurnID)
		}

	case protocol.TranscriptDelta:
		if _, done := c.finalized[m.TurnID]; done {
			c.mu.Unlock()
			c.logger.Debug("dropped finalized transcript delta", zap.String("turn", m.TurnID))
			return
		}
		c.mu.Unlock()
		if c.handlers.TranscriptDelta != nil {
			c.handlers.TranscriptDelta(m.TurnID, m.Text)
		}

	case protocol.TranscriptDone:
		// Always forwarded, even when already finalized, so a repeated
		// done can correct the final text.
		c.finalized[m.TurnID] = struct{}{}
		c.mu.Unlock()
		if c.handlers.TranscriptDone != nil {
			c.handlers.TranscriptDone(m.TurnID, m.FinalText)
		}

	case protocol.Interrupt:
		if m.TurnID != c.turnID {
			c.mu.Unlock()
			c.logger.Debug("ignored interrupt for superseded turn", zap.String("turn", m.TurnID))
			return
		}
		c.finalized[m.TurnID] = struct{}{}
		c.mu.Unlock()
		if c.handlers.Interrupted != nil {
			c.handlers.Interrupted(m.TurnID, m.OffsetMs)
		}

	case protocol.AvatarState:
		c.mu.Unlock()
		if c.handlers.AvatarState != nil {
			c.handlers.AvatarState(m.State)
		}

	case protocol.Pong:
		c.mu.Unlock()
		if c.handlers.Pong != nil {
			c.handlers.Pong()
		}

	default:
		c.mu.Unlock()
		c.logger.Debug("ignored unexpected message", zap.String("type", msg.Type()))
	}
}

// adoptTurnLocked installs a new current turn. A restarted turn id is
// legitimate, so it leaves the finalized set. Caller holds mu.
func (c *Client) adoptTurnLocked(turnID, sessionID string, how turnSwitch) {
	delete(c.finalized, turnID)
	c.turnID = turnID
	if sessionID != "" {
		c.sessionID = sessionID
	}

	if how == switchImplicit {
		c.logger.Debug("implicit turn switch", zap.String("turn", turnID))
	} else {
		c.logger.Debug("turn started", zap.String("turn", turnID))
	}
}

// CurrentTurn returns the current turn and session ids.
func (c *Client) CurrentTurn() (turnID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnID, c.sessionID
}

// IsFinalized reports whether a turn's transcript has been finalized.
func (c *Client) IsFinalized(turnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.finalized[turnID]
	return ok
}

// Dispose clears all turn state. Safe to call more than once.
func (c *Client) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.turnID = ""
	c.sessionID = ""
	c.finalized = make(map[string]struct{})
}

// Outbound helpers. Each sends the minimal field set for its type.

// Ping sends a heartbeat.
func (c *Client) Ping() error {
	return c.transport.Send(protocol.Ping{})
}

// SendText sends a typed user utterance.
func (c *Client) SendText(text string) error {
	return c.transport.Send(protocol.Text{Data: text})
}

// SendAudio sends captured audio upstream.
func (c *Client) SendAudio(pcm []byte, timestamp uint32) error {
	return c.transport.Send(protocol.AudioInput{Data: pcm, Timestamp: timestamp})
}

// StartAudioStream announces an upstream audio stream for a user.
func (c *Client) StartAudioStream(userID string) error {
	return c.transport.Send(protocol.StreamStart{UserID: userID})
}

// EndAudioStream closes the upstream audio stream.
func (c *Client) EndAudioStream() error {
	return c.transport.Send(protocol.StreamEnd{})
}

// SendInterrupt asks the server to cut the current turn.
func (c *Client) SendInterrupt() error {
	return c.transport.Send(protocol.Interrupt{})
}
