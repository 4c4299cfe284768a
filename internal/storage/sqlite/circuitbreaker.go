package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned while the breaker sheds load. It wraps
// core.ErrBusy, so the HTTP layer answers 429 with Retry-After.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", core.ErrBusy)

// CircuitBreaker stops sending work to a database that keeps failing.
// After threshold consecutive infrastructure failures it opens; once
// resetTimeout has passed a single probe is let through, and its outcome
// either closes the breaker or opens it again.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	clock        clock.Clock
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout, clock: clock.Real()}
}

// Execute runs fn unless the breaker is shedding load.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(probe, isInfraFailure(err))
	return err
}

// admit decides whether a call may run and whether it is the half-open probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case probe && failed:
		cb.trip()
	case probe:
		cb.state = StateClosed
		cb.failures = 0
	case cb.state != StateClosed:
		// a call admitted before the breaker opened; its outcome is stale
	case failed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.trip()
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.clock.Now()
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// isInfraFailure reports whether err says something about the health of the
// database. Domain outcomes (not found, conflicts, authorization, bad input)
// and caller cancellation do not count.
func isInfraFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	return !core.IsConflict(err) && !core.IsAuthorization(err)
}
