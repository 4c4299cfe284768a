package routing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
	"github.com/nusagates/laragates-sub001/internal/storage/sqlite"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
	fail   bool
}

func (r *recorder) Notify(_ context.Context, kind core.EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := payload.(core.Event); ok {
		r.events = append(r.events, ev)
	}
	if r.fail {
		return errors.New("notifier down")
	}
	return nil
}

func (r *recorder) count(kind core.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type harness struct {
	store     storage.Store
	clock     *clock.Fake
	notes     *recorder
	engine    *Engine
	lifecycle *Lifecycle
	presence  *Presence
}

func newHarness(t *testing.T, st storage.Store) *harness {
	t.Helper()
	h := &harness{store: st, clock: clock.NewFake(epoch), notes: &recorder{}}
	opts := []Option{WithClock(h.clock), WithNotifier(h.notes)}
	policy := NewPolicy(DefaultMaxOpenSessions)
	h.engine = NewEngine(st, policy, opts...)
	h.lifecycle = NewLifecycle(st, policy, opts...)
	h.presence = NewPresence(st, h.engine, opts...)
	return h
}

func newMemHarness(t *testing.T) *harness {
	return newHarness(t, sqlite.NewSQLiteTest(t))
}

func newFileHarness(t *testing.T) *harness {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "routing.db"), sqlite.WithLockTimeout(10*time.Second))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return newHarness(t, st)
}

func (h *harness) agent(t *testing.T, id string, role core.Role, max int) core.Agent {
	t.Helper()
	a, err := h.store.RegisterAgent(context.Background(), core.Agent{
		ID:              id,
		Name:            id,
		Role:            role,
		Status:          core.AgentOnline,
		IsActive:        true,
		MaxOpenSessions: max,
		LastHeartbeatAt: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return a
}

// pending creates n sessions one minute apart, oldest first.
func (h *harness) pending(t *testing.T, prefix string, n int) []core.Session {
	t.Helper()
	out := make([]core.Session, 0, n)
	for i := 0; i < n; i++ {
		s, err := h.store.CreateSession(context.Background(), core.Session{
			ID:         fmt.Sprintf("%s-%d", prefix, i),
			CustomerID: fmt.Sprintf("cust-%s-%d", prefix, i),
			CreatedAt:  h.clock.Now().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func (h *harness) openFor(t *testing.T, agentID string) []core.Session {
	t.Helper()
	open, err := h.store.ListSessions(context.Background(), storage.SessionFilter{Status: core.SessionOpen, AssignedTo: agentID})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	return open
}

func (h *harness) pendingCount(t *testing.T) int {
	t.Helper()
	p, err := h.store.ListSessions(context.Background(), storage.SessionFilter{Status: core.SessionPending})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return len(p)
}
