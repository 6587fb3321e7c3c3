package circuitbreaker

import (
	"sync"
	"time"
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Registry hands out one breaker per key so each plugin action trips
// independently. When disabled, Execute is a passthrough.
type Registry struct {
	mu          sync.RWMutex
	breakers    map[string]*CircuitBreaker
	maxFailures int
	timeout     time.Duration
	enabled     bool
}

func NewRegistry(maxFailures int, timeout time.Duration, enabled bool) *Registry {
	return &Registry{
		breakers:    make(map[string]*CircuitBreaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		enabled:     enabled,
	}
}

// For returns the breaker registered under key, creating it on first use
func (r *Registry) For(key string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[key]; ok {
		return cb
	}
	cb = New(r.maxFailures, r.timeout)
	r.breakers[key] = cb
	return cb
}

// Execute runs fn under the breaker for key
func (r *Registry) Execute(key string, fn func() error) error {
	if !r.enabled {
		return fn()
	}
	return r.For(key).Execute(fn)
}

// States snapshots every known breaker, keyed by action name
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		states[key] = cb.State()
	}
	return states
}
