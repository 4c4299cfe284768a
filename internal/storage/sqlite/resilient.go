package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker + RetryOnDBLockWithConfig
// so transient "database is locked" errors are retried and a failing database
// is shed quickly instead of piling up waiters.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
	retry RetryConfig
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return NewResilientWithBreaker(inner, NewCircuitBreaker(5, 30*time.Second))
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb, retry: DefaultRetryConfig()}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

// Inner exposes the wrapped store for maintenance paths such as Ping.
func (r *ResilientStore) Inner() *Store {
	return r.inner
}

// do runs fn through the breaker and the lock retry loop. A lock error that
// survives every retry is reported as core.ErrBusy.
func (r *ResilientStore) do(fn func() error) error {
	err := r.cb.Execute(func() error {
		return RetryOnDBLockWithConfig(r.retry, fn)
	})
	if isDBLocked(err) {
		return fmt.Errorf("%w: %v", core.ErrBusy, err)
	}
	return err
}

func call[T any](r *ResilientStore, fn func() (T, error)) (T, error) {
	var result T
	err := r.do(func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Update retries the whole unit of work, so fn may run more than once.
func (r *ResilientStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.do(func() error {
		return r.inner.Update(ctx, fn)
	})
}

func (r *ResilientStore) WithLock(ctx context.Context, sessionID string, fn func(tx storage.Tx, s core.Session) error) error {
	return r.do(func() error {
		return r.inner.WithLock(ctx, sessionID, fn)
	})
}

func (r *ResilientStore) RegisterAgent(ctx context.Context, agent core.Agent) (core.Agent, error) {
	return call(r, func() (core.Agent, error) { return r.inner.RegisterAgent(ctx, agent) })
}

func (r *ResilientStore) GetAgent(ctx context.Context, id string) (core.Agent, error) {
	return call(r, func() (core.Agent, error) { return r.inner.GetAgent(ctx, id) })
}

func (r *ResilientStore) ListAgents(ctx context.Context) ([]core.Agent, error) {
	return call(r, func() ([]core.Agent, error) { return r.inner.ListAgents(ctx) })
}

func (r *ResilientStore) SetPresence(ctx context.Context, agentID string, status core.AgentStatus, at time.Time) (core.Agent, error) {
	return call(r, func() (core.Agent, error) { return r.inner.SetPresence(ctx, agentID, status, at) })
}

func (r *ResilientStore) ExpireStaleAgents(ctx context.Context, cutoff time.Time) ([]core.Agent, error) {
	return call(r, func() ([]core.Agent, error) { return r.inner.ExpireStaleAgents(ctx, cutoff) })
}

func (r *ResilientStore) EligibleAgents(ctx context.Context) ([]storage.AgentLoad, error) {
	return call(r, func() ([]storage.AgentLoad, error) { return r.inner.EligibleAgents(ctx) })
}

func (r *ResilientStore) CreateSession(ctx context.Context, s core.Session) (core.Session, error) {
	return call(r, func() (core.Session, error) { return r.inner.CreateSession(ctx, s) })
}

func (r *ResilientStore) GetSession(ctx context.Context, id string) (core.Session, error) {
	return call(r, func() (core.Session, error) { return r.inner.GetSession(ctx, id) })
}

func (r *ResilientStore) ListSessions(ctx context.Context, f storage.SessionFilter) ([]core.Session, error) {
	return call(r, func() ([]core.Session, error) { return r.inner.ListSessions(ctx, f) })
}

func (r *ResilientStore) CreateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error) {
	return call(r, func() (core.Ticket, error) { return r.inner.CreateTicket(ctx, t) })
}

func (r *ResilientStore) GetTicket(ctx context.Context, id string) (core.Ticket, error) {
	return call(r, func() (core.Ticket, error) { return r.inner.GetTicket(ctx, id) })
}

func (r *ResilientStore) ListTickets(ctx context.Context, f storage.TicketFilter) ([]core.Ticket, error) {
	return call(r, func() ([]core.Ticket, error) { return r.inner.ListTickets(ctx, f) })
}

func (r *ResilientStore) UpdateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error) {
	return call(r, func() (core.Ticket, error) { return r.inner.UpdateTicket(ctx, t) })
}

func (r *ResilientStore) SlaSubjects(ctx context.Context) ([]core.SlaSubject, error) {
	return call(r, func() ([]core.SlaSubject, error) { return r.inner.SlaSubjects(ctx) })
}

func (r *ResilientStore) FindOrCreateBreach(ctx context.Context, b core.SlaBreach) (core.SlaBreach, bool, error) {
	var (
		result  core.SlaBreach
		created bool
	)
	err := r.do(func() error {
		var innerErr error
		result, created, innerErr = r.inner.FindOrCreateBreach(ctx, b)
		return innerErr
	})
	return result, created, err
}

func (r *ResilientStore) ListBreaches(ctx context.Context, f storage.BreachFilter) ([]core.SlaBreach, error) {
	return call(r, func() ([]core.SlaBreach, error) { return r.inner.ListBreaches(ctx, f) })
}

func (r *ResilientStore) AuditTrail(ctx context.Context, sessionID string) ([]core.AuditEntry, error) {
	return call(r, func() ([]core.AuditEntry, error) { return r.inner.AuditTrail(ctx, sessionID) })
}

func (r *ResilientStore) ClosedSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Session, error) {
	return call(r, func() ([]core.Session, error) { return r.inner.ClosedSessionsBefore(ctx, cutoff, limit) })
}

func (r *ResilientStore) PurgeClosedSessions(ctx context.Context, cutoff time.Time, targets []storage.PurgeTarget) (int, error) {
	return call(r, func() (int, error) { return r.inner.PurgeClosedSessions(ctx, cutoff, targets) })
}

// Close delegates directly to the inner store without CB or retry.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
