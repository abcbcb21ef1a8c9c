// ABOUTME: Playback engine with jitter-gated start and chained scheduling
// ABOUTME: Buffers decoded chunks and schedules them against the device clock
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Converse-Protocol/converse-go/pkg/audio"
	"github.com/Converse-Protocol/converse-go/pkg/faultguard"
	"github.com/Converse-Protocol/converse-go/pkg/playback/output"
)

// ErrUnderrun is reported to the fault guard when the buffer drains
// mid-stream.
var ErrUnderrun = errors.New("playback buffer drained")

const defaultMaxBufferFrames = 64

// guardDomain groups playback faults in the guard's rate window.
const guardDomain = "playback"

// EngineConfig holds playback engine configuration.
type EngineConfig struct {
	SampleRate      int // default 24000
	Channels        int // default 1
	MaxBufferFrames int // ring capacity, default 64
	Jitter          JitterConfig
	Output          output.Output
	Guard           *faultguard.Guard // optional
	Logger          *zap.Logger
}

// Engine buffers decoded audio chunks and plays them through an Output.
// Playback does not start until the jitter model's head-start threshold
// is met; after that each chunk's completion schedules the next, so the
// pipeline is driven by the device clock rather than polling. Draining
// the buffer mid-stream pauses playback and re-buffers to the threshold.
type Engine struct {
	out    output.Output
	jitter *JitterBuffer
	guard  *faultguard.Guard
	logger *zap.Logger

	mu        sync.Mutex
	ring      *Ring[audio.Chunk]
	buffered  time.Duration
	playing   bool
	draining  bool // stream end announced, empty buffer is not a fault
	nextPlay  time.Duration
	turnStart time.Duration
	pending   map[int64]*scheduledUnit
	nextID    int64
	gen       int64 // bumped by Stop/TruncateAt to invalidate in-flight schedules
	closed    bool
}

type scheduledUnit struct {
	at     time.Duration
	cancel func()
}

// NewEngine creates an engine and opens the output for the configured
// format.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.MaxBufferFrames == 0 {
		cfg.MaxBufferFrames = defaultMaxBufferFrames
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Jitter.Logger = logger

	if err := cfg.Output.Open(cfg.SampleRate, cfg.Channels); err != nil {
		return nil, err
	}

	return &Engine{
		out:     cfg.Output,
		jitter:  NewJitterBuffer(cfg.Jitter),
		guard:   cfg.Guard,
		logger:  logger,
		ring:    NewRing[audio.Chunk](cfg.MaxBufferFrames),
		pending: make(map[int64]*scheduledUnit),
	}, nil
}

// Run recomputes the adaptive buffer target on a fixed cadence until
// the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.jitter.Recompute()
		}
	}
}

// AddChunk buffers one decoded chunk. The arrival is recorded in the
// jitter window, and once enough frames are buffered playback starts
// (or resumes after an underrun).
func (e *Engine) AddChunk(c audio.Chunk) {
	received := c.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	if !c.SentAt.IsZero() {
		e.jitter.Record(c.SentAt, received)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.draining = false

	evicted, overwrote := e.ring.Push(c)
	e.buffered += c.Duration()
	if overwrote {
		e.buffered -= evicted.Duration()
		e.logger.Warn("playback buffer full, dropping oldest chunk",
			zap.Int("capacity", e.ring.Cap()))
	}

	start := false
	if !e.playing {
		need := e.jitter.MinBufferFramesForStart(c.Duration())
		if e.ring.Len() >= need {
			e.playing = true
			start = true
		}
	}
	e.mu.Unlock()

	if start {
		e.scheduleNext()
	}
}

// MarkStreamEnd announces that no more chunks are expected for the
// current stream, so draining to empty is a normal finish rather than
// an underrun.
func (e *Engine) MarkStreamEnd() {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()
}

// StartTurn records where the next turn's audio will begin on the
// device clock. Interrupt offsets are resolved against this mark.
func (e *Engine) StartTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.nextPlay
	if now := e.out.Now(); start < now {
		start = now
	}
	e.turnStart = start
}

// scheduleNext pops one chunk and hands it to the output. Each chunk's
// completion callback calls back in here, chaining playback.
func (e *Engine) scheduleNext() {
	e.mu.Lock()
	if e.closed || !e.playing {
		e.mu.Unlock()
		return
	}

	chunk, ok := e.ring.Pop()
	if !ok {
		e.playing = false
		drained := e.draining
		e.mu.Unlock()

		if drained {
			e.logger.Debug("playback drained at stream end")
			return
		}
		e.jitter.RecordUnderrun()
		if e.guard != nil {
			e.guard.Report(guardDomain, ErrUnderrun)
		}
		e.logger.Warn("playback underrun, rebuffering",
			zap.Duration("target", e.jitter.Target()))
		return
	}
	e.buffered -= chunk.Duration()

	at := e.nextPlay
	if now := e.out.Now(); at < now {
		at = now
	}
	e.nextPlay = at + chunk.Duration()

	id := e.nextID
	e.nextID++
	u := &scheduledUnit{at: at}
	e.pending[id] = u
	gen := e.gen
	e.mu.Unlock()

	cancel, err := e.out.ScheduleAt(chunk.Data, at, func() { e.onUnitDone(id) })
	if err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		if e.guard != nil {
			e.guard.Report(guardDomain, err)
		}
		e.logger.Error("failed to schedule chunk", zap.Error(err))
		e.scheduleNext()
		return
	}

	e.mu.Lock()
	if e.gen != gen {
		// Stop or truncation raced the schedule; undo it.
		delete(e.pending, id)
		e.mu.Unlock()
		cancel()
		return
	}
	if _, live := e.pending[id]; live {
		u.cancel = cancel
	}
	e.mu.Unlock()
}

func (e *Engine) onUnitDone(id int64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
	e.scheduleNext()
}

// Stop abandons playback entirely: pending audio is canceled, the
// buffer cleared and the jitter model reset. The next stream buffers
// from scratch.
func (e *Engine) Stop() {
	e.mu.Lock()
	units := e.pending
	e.pending = make(map[int64]*scheduledUnit)
	e.gen++
	e.ring.Clear()
	e.buffered = 0
	e.playing = false
	e.draining = false
	e.nextPlay = 0
	e.turnStart = 0
	e.mu.Unlock()

	for _, u := range units {
		if u.cancel != nil {
			u.cancel()
		}
	}
	e.jitter.Reset()
}

// TruncateAt cuts the current turn at the given offset from its start:
// audio scheduled past the cut point is canceled and buffered chunks
// are dropped, while audio already playing before the cut finishes
// naturally. Used when the user interrupts mid-utterance.
func (e *Engine) TruncateAt(offset time.Duration) {
	e.mu.Lock()
	cutoff := e.turnStart + offset

	var cut []*scheduledUnit
	for id, u := range e.pending {
		if u.at >= cutoff {
			cut = append(cut, u)
			delete(e.pending, id)
		}
	}
	e.gen++
	e.ring.Clear()
	e.buffered = 0
	e.playing = false
	if e.nextPlay > cutoff {
		e.nextPlay = cutoff
	}
	e.mu.Unlock()

	for _, u := range cut {
		if u.cancel != nil {
			u.cancel()
		}
	}
	e.logger.Debug("playback truncated",
		zap.Duration("offset", offset),
		zap.Int("canceled_units", len(cut)))
}

// Buffered returns the play time currently queued in the ring.
func (e *Engine) Buffered() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

// IsPlaying reports whether chunks are actively being scheduled.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// PendingUnits returns how many chunks the output currently holds.
func (e *Engine) PendingUnits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Stats returns the jitter model's current snapshot.
func (e *Engine) Stats() BufferStats {
	return e.jitter.Stats()
}

// Close stops playback and releases the output device.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.out.Close()
}
