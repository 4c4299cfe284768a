package storage

import (
	"context"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
)

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Status     core.SessionStatus
	AssignedTo string
	Limit      int
}

// TicketFilter narrows ListTickets.
type TicketFilter struct {
	Status core.TicketStatus
	Limit  int
}

// BreachFilter narrows ListBreaches.
type BreachFilter struct {
	EntityType core.EntityType
	EntityID   string
	Rule       core.SlaRule
	Limit      int
}

// Tx is the store as seen from inside a locked unit of work. Every method
// runs in the same transaction; the transaction commits only when the
// callback passed to Update or WithLock returns nil.
type Tx interface {
	// LockSession acquires the exclusive lock on a session row and returns
	// its current state.
	LockSession(id string) (core.Session, error)
	// LockAgent acquires the exclusive lock on an agent row.
	LockAgent(id string) (core.Agent, error)
	CountOpenSessions(agentID string) (int, error)
	// PendingSessions returns unassigned pending sessions oldest first.
	PendingSessions(limit int) ([]core.Session, error)
	// ClaimSession moves a pending, unassigned session to open for agentID.
	// It reports false when the row no longer matches, leaving it untouched.
	ClaimSession(id, agentID string, at time.Time) (bool, error)
	SaveSession(s core.Session) error
	AppendAudit(entry core.AuditEntry) (core.AuditEntry, error)
}

// Store is the durable source of truth for agents, sessions and the
// records derived from them.
type Store interface {
	// Update runs fn in a single write transaction.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// WithLock locks one session row and runs fn with its current state.
	WithLock(ctx context.Context, sessionID string, fn func(tx Tx, s core.Session) error) error

	RegisterAgent(ctx context.Context, agent core.Agent) (core.Agent, error)
	GetAgent(ctx context.Context, id string) (core.Agent, error)
	ListAgents(ctx context.Context) ([]core.Agent, error)
	// SetPresence records a presence transition for an agent.
	SetPresence(ctx context.Context, agentID string, status core.AgentStatus, at time.Time) (core.Agent, error)
	// ExpireStaleAgents marks online agents whose last heartbeat precedes
	// cutoff as offline and returns them.
	ExpireStaleAgents(ctx context.Context, cutoff time.Time) ([]core.Agent, error)
	// EligibleAgents returns online, active agents with their open counts,
	// least loaded first.
	EligibleAgents(ctx context.Context) ([]AgentLoad, error)

	CreateSession(ctx context.Context, s core.Session) (core.Session, error)
	GetSession(ctx context.Context, id string) (core.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]core.Session, error)

	CreateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error)
	GetTicket(ctx context.Context, id string) (core.Ticket, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]core.Ticket, error)
	UpdateTicket(ctx context.Context, t core.Ticket) (core.Ticket, error)

	// SlaSubjects returns every non-closed session and ticket.
	SlaSubjects(ctx context.Context) ([]core.SlaSubject, error)
	// FindOrCreateBreach inserts b unless a breach with the same key exists,
	// in which case the existing record is returned with created=false.
	FindOrCreateBreach(ctx context.Context, b core.SlaBreach) (core.SlaBreach, bool, error)
	ListBreaches(ctx context.Context, f BreachFilter) ([]core.SlaBreach, error)

	AuditTrail(ctx context.Context, sessionID string) ([]core.AuditEntry, error)

	// ClosedSessionsBefore returns closed sessions whose ClosedAt precedes cutoff.
	ClosedSessionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Session, error)
	// PurgeClosedSessions deletes each target session, with its audit rows up
	// to ThroughSeq, if it is still closed before cutoff and has no audit
	// entries newer than ThroughSeq. It returns how many sessions were removed.
	PurgeClosedSessions(ctx context.Context, cutoff time.Time, targets []PurgeTarget) (int, error)

	Close() error
}

// PurgeTarget names a session and the last audit seq that was archived for it.
type PurgeTarget struct {
	SessionID  string
	ThroughSeq uint64
}

// AgentLoad pairs an agent with its current number of open sessions.
type AgentLoad struct {
	Agent core.Agent
	Open  int
}
