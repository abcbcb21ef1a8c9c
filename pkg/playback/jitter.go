// ABOUTME: Adaptive jitter buffer model
// ABOUTME: Derives the target buffering depth from arrival jitter and underruns
package playback

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	jitterWindowSize   = 100
	recomputeMinSample = 10
	hysteresisBand     = 20 * time.Millisecond
	underrunStep       = 50 * time.Millisecond
	safetyFactorCalm   = 1.5
	safetyFactorChoppy = 2.0
	// More than this many cumulative underruns switches to the
	// conservative safety factor.
	choppyUnderruns = 3
)

// RecomputeInterval is how often the adaptive target is re-derived from
// the sample window.
const RecomputeInterval = 5 * time.Second

// JitterSample is one arrival measurement.
type JitterSample struct {
	SentTime    time.Time
	ReceiveTime time.Time
	Jitter      time.Duration
}

// BufferStats is a snapshot of the adaptive model.
type BufferStats struct {
	TargetBufferMs int
	MinBufferMs    int
	MaxBufferMs    int
	AverageJitter  time.Duration
	P95Jitter      time.Duration
	UnderrunCount  int
	NetworkQuality string
}

// JitterConfig holds jitter buffer configuration.
type JitterConfig struct {
	MinBuffer time.Duration // lower clamp for the target depth
	MaxBuffer time.Duration // upper clamp for the target depth
	Logger    *zap.Logger
}

// JitterBuffer keeps a capped sliding window of arrival-time samples
// and derives an adaptive target buffering depth. The target always
// stays within [MinBuffer, MaxBuffer].
type JitterBuffer struct {
	mu        sync.Mutex
	cfg       JitterConfig
	logger    *zap.Logger
	samples   *Ring[JitterSample]
	target    time.Duration
	underruns int
}

// NewJitterBuffer creates a jitter buffer starting at the minimum depth.
func NewJitterBuffer(cfg JitterConfig) *JitterBuffer {
	if cfg.MinBuffer == 0 {
		cfg.MinBuffer = 60 * time.Millisecond
	}
	if cfg.MaxBuffer == 0 {
		cfg.MaxBuffer = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JitterBuffer{
		cfg:     cfg,
		logger:  logger,
		samples: NewRing[JitterSample](jitterWindowSize),
		target:  cfg.MinBuffer,
	}
}

// Record adds one arrival measurement to the sliding window.
func (j *JitterBuffer) Record(sent, received time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.samples.Push(JitterSample{
		SentTime:    sent,
		ReceiveTime: received,
		Jitter:      received.Sub(sent),
	})
}

// RecordUnderrun reacts to a drained buffer: the target is immediately
// raised one step, clamped to the maximum. It never decreases here.
func (j *JitterBuffer) RecordUnderrun() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.underruns++
	next := j.target + underrunStep
	if next > j.cfg.MaxBuffer {
		next = j.cfg.MaxBuffer
	}
	if next > j.target {
		j.logger.Debug("underrun, raising target",
			zap.Duration("target", next),
			zap.Int("underruns", j.underruns))
		j.target = next
	}
}

// Recompute re-derives the target from the window. It is a no-op with
// fewer than ten samples, and the new target is only applied when it
// leaves the hysteresis band around the current one.
func (j *JitterBuffer) Recompute() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.samples.Len() < recomputeMinSample {
		return
	}

	_, p95 := j.windowStatsLocked()

	safety := safetyFactorCalm
	if j.underruns > choppyUnderruns {
		safety = safetyFactorChoppy
	}

	next := time.Duration(float64(p95) * safety)
	if next < j.cfg.MinBuffer {
		next = j.cfg.MinBuffer
	}
	if next > j.cfg.MaxBuffer {
		next = j.cfg.MaxBuffer
	}

	diff := next - j.target
	if diff < 0 {
		diff = -diff
	}
	if diff <= hysteresisBand {
		return
	}

	j.logger.Debug("retargeting buffer depth",
		zap.Duration("old", j.target),
		zap.Duration("new", next),
		zap.Duration("p95", p95))
	j.target = next
}

// windowStatsLocked computes mean and 95th-percentile jitter over the
// window. Caller holds mu.
func (j *JitterBuffer) windowStatsLocked() (mean, p95 time.Duration) {
	n := j.samples.Len()
	if n == 0 {
		return 0, 0
	}

	jitters := make([]time.Duration, 0, n)
	var sum time.Duration
	// Drain and re-push to walk the ring without exposing internals.
	for i := 0; i < n; i++ {
		s, _ := j.samples.Pop()
		j.samples.Push(s)
		jitters = append(jitters, s.Jitter)
		sum += s.Jitter
	}

	sort.Slice(jitters, func(a, b int) bool { return jitters[a] < jitters[b] })
	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	return sum / time.Duration(n), jitters[idx]
}

// Target returns the current adaptive target depth.
func (j *JitterBuffer) Target() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.target
}

// MinBufferFramesForStart returns how many frames must be buffered
// before the very first chunk plays. The head start is 1.5x the
// steady-state target: a conservative margin against an immediate
// underrun right after playback begins.
func (j *JitterBuffer) MinBufferFramesForStart(frameDuration time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if frameDuration <= 0 {
		return 1
	}
	frames := int(math.Ceil(float64(j.target) * 1.5 / float64(frameDuration)))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// IsHealthy reports whether the current buffered depth covers at least
// 80% of the target.
func (j *JitterBuffer) IsHealthy(current time.Duration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return current*5 >= j.target*4
}

// Stats returns a snapshot of the model.
func (j *JitterBuffer) Stats() BufferStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	mean, p95 := j.windowStatsLocked()
	return BufferStats{
		TargetBufferMs: int(j.target / time.Millisecond),
		MinBufferMs:    int(j.cfg.MinBuffer / time.Millisecond),
		MaxBufferMs:    int(j.cfg.MaxBuffer / time.Millisecond),
		AverageJitter:  mean,
		P95Jitter:      p95,
		UnderrunCount:  j.underruns,
		NetworkQuality: qualityFor(mean),
	}
}

// Reset discards all samples and statistics, returning the target to
// the minimum depth.
func (j *JitterBuffer) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.samples.Clear()
	j.underruns = 0
	j.target = j.cfg.MinBuffer
}

func qualityFor(meanJitter time.Duration) string {
	switch {
	case meanJitter < 20*time.Millisecond:
		return "excellent"
	case meanJitter < 50*time.Millisecond:
		return "good"
	case meanJitter < 100*time.Millisecond:
		return "fair"
	default:
		return "poor"
	}
}
