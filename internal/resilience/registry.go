package resilience

import (
	"sort"
	"sync"
)

// Registry holds one [CircuitBreaker] per named dependency. Breakers are
// created lazily on first use with the configuration registered for their
// name, or defaults when none was registered.
//
// A Registry is injected into everything that talks to an upstream so that
// tests can observe and manipulate breaker state directly.
type Registry struct {
	mu       sync.Mutex
	configs  map[string]CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		configs:  make(map[string]CircuitBreakerConfig),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Configure registers the configuration used when the breaker named cfg.Name
// is first created. Calling Configure after the breaker exists has no effect.
func (r *Registry) Configure(cfg CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
}

// Breaker returns the breaker for the named dependency, creating it on first
// use.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = CircuitBreakerConfig{Name: name}
	}
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns a point-in-time view of every breaker created so far,
// sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
