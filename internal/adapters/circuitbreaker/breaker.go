// Package circuitbreaker guards outbound calls to tool plugins and model
// providers. A breaker trips after consecutive failures and lets probe
// calls through once its cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// probeSuccesses is how many half-open calls must succeed in a row before
// the breaker closes again.
const probeSuccesses = 3

type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	maxFailures int
	cooldown    time.Duration
}

func New(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Execute runs fn unless the breaker is open. The callable runs outside the
// lock; concurrent calls may all probe a half-open breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if time.Since(cb.lastFailure) <= cb.cooldown {
		return ErrCircuitOpen
	}
	cb.state = StateHalfOpen
	cb.successes = 0
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= probeSuccesses {
			cb.state = StateClosed
			cb.failures = 0
		}
		return
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
