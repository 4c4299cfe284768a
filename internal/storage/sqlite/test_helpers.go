package sqlite

import (
	"context"
	"testing"

	"github.com/nusagates/laragates-sub001/internal/core"
)

// NewSQLiteTest opens an in-memory store that is closed with the test.
func NewSQLiteTest(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// SeedAgent registers an online, active agent with the given role and
// session ceiling.
func SeedAgent(t *testing.T, st *Store, id string, role core.Role, max int) core.Agent {
	t.Helper()
	a, err := st.RegisterAgent(context.Background(), core.Agent{
		ID:              id,
		Name:            id,
		Role:            role,
		Status:          core.AgentOnline,
		IsActive:        true,
		MaxOpenSessions: max,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return a
}
