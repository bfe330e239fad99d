package resilience

import "context"

// Guard composes per-dependency circuit breakers with a bounded retry policy.
// The retry loop runs inside the breaker's accounting: one guarded call is one
// logical outcome, so a call that only succeeds on its third attempt records a
// single success, and a call that exhausts its retries records a single
// failure. Open breakers reject before any attempt is made.
type Guard struct {
	registry *Registry
	retry    RetryConfig
	onRetry  func(dep string, attempt int, err error)
}

// NewGuard creates a Guard using reg for breaker lookup and retryCfg for the
// retry policy applied to every call.
func NewGuard(reg *Registry, retryCfg RetryConfig) *Guard {
	return &Guard{registry: reg, retry: retryCfg}
}

// OnRetry installs a hook invoked before each re-attempt with the dependency
// name. Call before the guard is shared across goroutines.
func (g *Guard) OnRetry(fn func(dep string, attempt int, err error)) {
	g.onRetry = fn
}

// Registry returns the underlying breaker registry.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Do runs fn guarded by the breaker for the named dependency, retrying
// retryable failures per the guard's retry policy. Retries happen within a
// single breaker execution, so the breaker sees the settled result of the
// whole sequence rather than each individual attempt. When the breaker is
// open it returns [ErrCircuitOpen] without invoking fn at all.
func (g *Guard) Do(ctx context.Context, dep string, fn func(ctx context.Context) error) error {
	cb := g.registry.Breaker(dep)
	retryCfg := g.retry
	if g.onRetry != nil {
		retryCfg.OnRetry = func(attempt int, err error) {
			g.onRetry(dep, attempt, err)
		}
	}
	return cb.Execute(func() error {
		return Retry(ctx, retryCfg, func() error {
			return fn(ctx)
		})
	})
}
