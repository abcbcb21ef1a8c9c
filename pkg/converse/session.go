// ABOUTME: High-level Session API for Converse clients
// ABOUTME: Composes transport, protocol, decoding and playback into one surface
package converse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Converse-Protocol/converse-go/pkg/audio"
	"github.com/Converse-Protocol/converse-go/pkg/audio/decode"
	"github.com/Converse-Protocol/converse-go/pkg/client"
	"github.com/Converse-Protocol/converse-go/pkg/faultguard"
	"github.com/Converse-Protocol/converse-go/pkg/playback"
	"github.com/Converse-Protocol/converse-go/pkg/playback/output"
	"github.com/Converse-Protocol/converse-go/pkg/protocol"
	"github.com/Converse-Protocol/converse-go/pkg/transport"
)

// AnimationSink receives avatar animation updates.
type AnimationSink interface {
	// SetState applies a server-driven avatar state ("idle",
	// "listening", "thinking", "speaking").
	SetState(state string)

	// PushFrame delivers one frame of blendshape weights.
	PushFrame(weights protocol.Weights)
}

// TranscriptSink receives the filtered transcript stream.
type TranscriptSink interface {
	OnDelta(turnID, text string)
	OnDone(turnID, finalText string)
}

// Config holds session configuration.
type Config struct {
	// ServerURL is the ws:// or wss:// endpoint.
	ServerURL string

	// Tokens authenticates the connection when set.
	Tokens transport.TokenProvider

	// UserID identifies this user on upstream audio streams. Defaults
	// to a random UUID.
	UserID string

	// Codec is the wire format, fixed for the session. Defaults to the
	// binary codec.
	Codec protocol.Codec

	// Format is the downstream audio format. Defaults to 24kHz mono PCM.
	Format audio.Format

	// MinBufferMs and MaxBufferMs bound the adaptive playback buffer.
	MinBufferMs int // default 60
	MaxBufferMs int // default 500

	// Output overrides the playback device. Defaults to an oto device
	// on a fresh DeviceManager; pass a shared device to coexist with
	// other audio in the process.
	Output output.Output

	// Animation receives avatar state and blendshape frames.
	Animation AnimationSink

	// Transcript receives transcript deltas and finals.
	Transcript TranscriptSink

	// OnStateChange is called after every connection state transition.
	OnStateChange func(transport.State)

	// OnError receives non-suppressed errors from all domains.
	OnError func(domain string, err error)

	// OnNotice is called once per opened circuit, as the single
	// degraded-mode signal for that domain.
	OnNotice func(domain string)

	// OnConnectionFailed signals that reconnection attempts are
	// exhausted.
	OnConnectionFailed func()

	Logger *zap.Logger
}

// Session is a live conversation with a Converse server: one transport
// channel, the turn state machine, a decoder and the playback engine,
// wired together. Interrupts truncate playback at the server-reported
// offset; transcript and animation events fan out to the configured
// sinks.
type Session struct {
	cfg    Config
	logger *zap.Logger

	guard   *faultguard.Guard
	channel *transport.Channel
	proto   *client.Client
	decoder decode.Decoder
	engine  *playback.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	tsBaseSet     bool
	tsBase        uint32
	tsBaseArrival time.Time
}

// NewSession assembles a session. It opens the playback device but does
// not connect; call Connect.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Format.Codec == "" {
		cfg.Format = audio.Format{Codec: "pcm", SampleRate: 24000, Channels: 1}
	}
	if cfg.MinBufferMs == 0 {
		cfg.MinBufferMs = 60
	}
	if cfg.MaxBufferMs == 0 {
		cfg.MaxBufferMs = 500
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.New().String()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := cfg.Output
	if out == nil {
		out = output.NewDevice(output.NewDeviceManager(logger))
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	s.guard = faultguard.New(faultguard.Config{
		OnError:  cfg.OnError,
		OnNotice: cfg.OnNotice,
		Logger:   logger,
	})

	dec, err := decode.New(cfg.Format)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	s.decoder = dec

	engine, err := playback.NewEngine(playback.EngineConfig{
		SampleRate: cfg.Format.SampleRate,
		Channels:   cfg.Format.Channels,
		Output:     out,
		Guard:      s.guard,
		Logger:     logger,
		Jitter: playback.JitterConfig{
			MinBuffer: time.Duration(cfg.MinBufferMs) * time.Millisecond,
			MaxBuffer: time.Duration(cfg.MaxBufferMs) * time.Millisecond,
		},
	})
	if err != nil {
		cancel()
		dec.Close()
		return nil, fmt.Errorf("failed to open playback: %w", err)
	}
	s.engine = engine

	s.channel = transport.NewChannel(transport.Config{
		URL:                cfg.ServerURL,
		Tokens:             cfg.Tokens,
		Codec:              cfg.Codec,
		Guard:              s.guard,
		OnStateChange:      cfg.OnStateChange,
		OnConnectionFailed: cfg.OnConnectionFailed,
		Logger:             logger,
	})

	s.proto = client.New(client.Config{
		Transport: s.channel,
		Logger:    logger,
		Handlers: client.Handlers{
			AudioStart:      s.onAudioStart,
			Audio:           s.onAudio,
			AnimationFrame:  s.onAnimationFrame,
			AudioEnd:        s.onAudioEnd,
			TranscriptDelta: s.onTranscriptDelta,
			TranscriptDone:  s.onTranscriptDone,
			Interrupted:     s.onInterrupted,
			AvatarState:     s.onAvatarState,
		},
	})

	return s, nil
}

// Connect dials the server and starts the event and recompute loops.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	go s.proto.Run(s.ctx)
	go s.engine.Run(s.ctx)
	return nil
}

// onAudioStart cuts whatever the previous turn still had queued and
// marks where the new turn begins on the device clock.
func (s *Session) onAudioStart(turnID, sessionID string) {
	s.engine.TruncateAt(0)
	s.engine.StartTurn()
	s.logger.Debug("turn audio started",
		zap.String("turn", turnID),
		zap.String("session", sessionID))
}

func (s *Session) onAudio(turnID string, data []byte, timestamp uint32) {
	samples, err := s.decoder.Decode(data)
	if err != nil {
		s.guard.Report("decode", err)
		return
	}

	arrival := time.Now()
	chunk := audio.Chunk{
		Data:       audio.SamplesToBytes(samples),
		SampleRate: s.cfg.Format.SampleRate,
		Channels:   s.cfg.Format.Channels,
		ReceivedAt: arrival,
	}
	if timestamp != 0 {
		chunk.SentAt = s.sentTime(timestamp, arrival)
	}
	s.engine.AddChunk(chunk)
}

// sentTime reconstructs a wall-clock send time from the 32-bit
// millisecond wire timestamp, anchored at the first pair seen. The
// signed delta survives timestamp wraparound.
func (s *Session) sentTime(ts uint32, arrival time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tsBaseSet {
		s.tsBase = ts
		s.tsBaseArrival = arrival
		s.tsBaseSet = true
	}
	delta := time.Duration(int32(ts-s.tsBase)) * time.Millisecond
	return s.tsBaseArrival.Add(delta)
}

func (s *Session) onAnimationFrame(weights protocol.Weights) {
	if s.cfg.Animation != nil {
		s.cfg.Animation.PushFrame(weights)
	}
}

func (s *Session) onAudioEnd(turnID string) {
	s.engine.MarkStreamEnd()
}

func (s *Session) onTranscriptDelta(turnID, text string) {
	if s.cfg.Transcript != nil {
		s.cfg.Transcript.OnDelta(turnID, text)
	}
}

func (s *Session) onTranscriptDone(turnID, finalText string) {
	if s.cfg.Transcript != nil {
		s.cfg.Transcript.OnDone(turnID, finalText)
	}
}

func (s *Session) onInterrupted(turnID string, offsetMs int) {
	s.engine.TruncateAt(time.Duration(offsetMs) * time.Millisecond)
	s.logger.Info("turn interrupted",
		zap.String("turn", turnID),
		zap.Int("offset_ms", offsetMs))
}

func (s *Session) onAvatarState(state string) {
	if s.cfg.Animation != nil {
		s.cfg.Animation.SetState(state)
	}
}

// SendText sends a typed user utterance.
func (s *Session) SendText(text string) error {
	return s.proto.SendText(text)
}

// SendAudio sends captured microphone audio upstream.
func (s *Session) SendAudio(pcm []byte, timestamp uint32) error {
	return s.proto.SendAudio(pcm, timestamp)
}

// StartAudioStream announces an upstream audio stream for the
// configured user.
func (s *Session) StartAudioStream() error {
	return s.proto.StartAudioStream(s.cfg.UserID)
}

// EndAudioStream closes the upstream audio stream.
func (s *Session) EndAudioStream() error {
	return s.proto.EndAudioStream()
}

// Interrupt asks the server to cut the current turn. Playback is not
// touched until the server confirms with the truncation offset.
func (s *Session) Interrupt() error {
	return s.proto.SendInterrupt()
}

// CurrentTurn returns the current turn and session ids.
func (s *Session) CurrentTurn() (turnID, sessionID string) {
	return s.proto.CurrentTurn()
}

// State returns the connection state.
func (s *Session) State() transport.State {
	return s.channel.State()
}

// Stats returns the playback buffer's current snapshot.
func (s *Session) Stats() playback.BufferStats {
	return s.engine.Stats()
}

// Close tears the session down and releases the playback device.
func (s *Session) Close() error {
	s.cancel()
	s.proto.Dispose()
	s.channel.Disconnect()
	s.decoder.Close()
	return s.engine.Close()
}
