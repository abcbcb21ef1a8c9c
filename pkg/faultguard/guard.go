// ABOUTME: Per-domain circuit breaker for error reporting
// ABOUTME: Suppresses error storms after a threshold within a sliding window
package faultguard

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWindow    = 60 * time.Second
	defaultCooldown  = 30 * time.Second
	defaultThreshold = 10
)

// Config holds guard configuration.
type Config struct {
	// Window is the sliding time window errors are counted over.
	Window time.Duration

	// Cooldown is how long a tripped circuit stays open.
	Cooldown time.Duration

	// Threshold is the error count a domain may reach within the
	// window before its circuit opens.
	Threshold int

	// OnError receives every error that is not suppressed.
	OnError func(domain string, err error)

	// OnNotice is called once per circuit opening, as the single
	// user-facing degraded-mode signal for that domain.
	OnNotice func(domain string)

	// Now overrides the clock. Tests use this; production leaves it nil.
	Now func() time.Time

	Logger *zap.Logger
}

// Guard counts errors per domain over a sliding window and opens an
// independent circuit per domain when a storm is detected. While a
// circuit is open, errors in that domain are suppressed.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	domains map[string]*domainState
	logger  *zap.Logger
}

type domainState struct {
	times     []time.Time
	openUntil time.Time
}

// New creates a guard with defaults filled in.
func New(cfg Config) *Guard {
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Guard{
		cfg:     cfg,
		domains: make(map[string]*domainState),
		logger:  logger,
	}
}

// Report records an error in a domain. It forwards the error to the
// configured handler unless the domain's circuit is open or this error
// trips it.
func (g *Guard) Report(domain string, err error) {
	g.mu.Lock()

	now := g.cfg.Now()
	d := g.domains[domain]
	if d == nil {
		d = &domainState{}
		g.domains[domain] = d
	}

	if !d.openUntil.IsZero() {
		if now.Before(d.openUntil) {
			g.mu.Unlock()
			return
		}
		// Cooldown elapsed: clear the window, resume normal handling.
		d.openUntil = time.Time{}
		d.times = d.times[:0]
	}

	d.prune(now, g.cfg.Window)
	d.times = append(d.times, now)

	if len(d.times) > g.cfg.Threshold {
		d.openUntil = now.Add(g.cfg.Cooldown)
		g.mu.Unlock()

		g.logger.Warn("circuit opened",
			zap.String("domain", domain),
			zap.Duration("cooldown", g.cfg.Cooldown),
			zap.Error(err))
		if g.cfg.OnNotice != nil {
			g.cfg.OnNotice(domain)
		}
		return
	}
	g.mu.Unlock()

	g.logger.Debug("error reported", zap.String("domain", domain), zap.Error(err))
	if g.cfg.OnError != nil {
		g.cfg.OnError(domain, err)
	}
}

// IsOpen reports whether the domain's circuit is currently open.
func (g *Guard) IsOpen(domain string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.domains[domain]
	if d == nil {
		return false
	}
	return !d.openUntil.IsZero() && g.cfg.Now().Before(d.openUntil)
}

// Reset clears all domain state.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.domains = make(map[string]*domainState)
}

func (d *domainState) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := d.times[:0]
	for _, t := range d.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	d.times = keep
}
