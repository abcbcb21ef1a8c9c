// ABOUTME: Reference-counted manager for the shared oto device context
// ABOUTME: One hardware context per process, acquired and released explicitly
package output

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// DeviceManager owns the process-wide oto context. oto allows a single
// context per process, so every Output must acquire the shared handle
// through a manager instead of creating its own. The context is
// suspended while no holder remains and resumed on the next acquire.
type DeviceManager struct {
	mu         sync.Mutex
	ctx        *oto.Context
	refs       int
	suspended  bool
	sampleRate int
	channels   int
	logger     *zap.Logger
}

// NewDeviceManager creates a manager. The underlying context is created
// lazily on first Acquire.
func NewDeviceManager(logger *zap.Logger) *DeviceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceManager{logger: logger}
}

// Acquire returns the shared context, creating it on first use. The
// caller must pair it with exactly one Release.
func (m *DeviceManager) Acquire(sampleRate, channels int) (*oto.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio context: %w", err)
		}
		<-ready
		m.ctx = ctx
		m.sampleRate = sampleRate
		m.channels = channels
		m.logger.Info("audio device opened",
			zap.Int("sample_rate", sampleRate),
			zap.Int("channels", channels))
	} else if sampleRate != m.sampleRate || channels != m.channels {
		// oto cannot reinitialize; callers share whatever format the
		// first holder opened.
		m.logger.Warn("audio format change requested but device cannot reinitialize",
			zap.Int("have_rate", m.sampleRate),
			zap.Int("want_rate", sampleRate))
	}

	if m.suspended {
		if err := m.ctx.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume audio context: %w", err)
		}
		m.suspended = false
	}
	m.refs++
	return m.ctx, nil
}

// Release drops one reference. The context is suspended once nothing
// holds it; it is never torn down, matching oto's one-per-process rule.
func (m *DeviceManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs == 0 && m.ctx != nil {
		if err := m.ctx.Suspend(); err != nil {
			m.logger.Warn("failed to suspend audio context", zap.Error(err))
			return
		}
		m.suspended = true
		m.logger.Debug("audio device suspended")
	}
}

// Refs returns the current holder count.
func (m *DeviceManager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
