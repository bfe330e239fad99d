package call

import (
	"sync"
	"time"
)

// Default call duration limits.
const (
	DefaultSoftLimit      = 20 * time.Minute
	DefaultHardLimit      = 30 * time.Minute
	DefaultHardLimitGrace = 8 * time.Second
)

// GovernorConfig holds the duration limits for one call.
type GovernorConfig struct {
	// SoftLimit is when the session should start steering the conversation
	// toward a close. Default: 20m.
	SoftLimit time.Duration

	// HardLimit is when the session must speak its closing line and end the
	// call. Default: 30m.
	HardLimit time.Duration

	// Grace is how long after the hard limit the session may take to finish
	// the closing line before the call is cut off. Default: 8s.
	Grace time.Duration

	// OnSoftLimit fires once when the soft limit elapses.
	OnSoftLimit func()

	// OnHardLimit fires once when the hard limit elapses.
	OnHardLimit func()

	// OnForceEnd fires once when the grace period after the hard limit
	// elapses without the call having ended.
	OnForceEnd func()
}

// Governor enforces the call duration limits with wall-clock timers. The
// soft limit is advisory and fires at most once; the hard limit starts the
// grace countdown, after which the call is forcibly ended.
type Governor struct {
	mu        sync.Mutex
	soft      *time.Timer
	hard      *time.Timer
	grace     *time.Timer
	graceDur  time.Duration
	onForce   func()
	softFired bool
	stopped   bool
}

// NewGovernor starts the timers immediately. Zero-value limits are replaced
// with defaults.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = DefaultSoftLimit
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = DefaultHardLimit
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultHardLimitGrace
	}

	g := &Governor{
		graceDur: cfg.Grace,
		onForce:  cfg.OnForceEnd,
	}
	g.soft = time.AfterFunc(cfg.SoftLimit, func() {
		g.mu.Lock()
		if g.stopped || g.softFired {
			g.mu.Unlock()
			return
		}
		g.softFired = true
		fn := cfg.OnSoftLimit
		g.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	g.hard = time.AfterFunc(cfg.HardLimit, func() {
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return
		}
		g.grace = time.AfterFunc(g.graceDur, g.forceEnd)
		fn := cfg.OnHardLimit
		g.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return g
}

func (g *Governor) forceEnd() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	fn := g.onForce
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SoftLimitReached reports whether the soft limit has elapsed.
func (g *Governor) SoftLimitReached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.softFired
}

// Stop cancels all pending timers. Safe to call multiple times.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	g.soft.Stop()
	g.hard.Stop()
	if g.grace != nil {
		g.grace.Stop()
	}
}
