package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// Lifecycle guards manual transitions of a single session: take, close and
// the admin reopen override.
type Lifecycle struct {
	store  storage.Store
	policy Policy
	options
}

func NewLifecycle(store storage.Store, policy Policy, opts ...Option) *Lifecycle {
	return &Lifecycle{store: store, policy: policy, options: buildOptions("lifecycle", opts)}
}

// Take moves a pending session to open for agentID. Concurrent takes of the
// same session have exactly one winner; the rest get a ConflictError.
func (l *Lifecycle) Take(ctx context.Context, sessionID, agentID string) (core.Session, error) {
	return l.transition(ctx, sessionID, core.EventSessionTaken, func(tx storage.Tx, before core.Session) (core.Session, core.AuditEntry, error) {
		agent, err := actor(tx, agentID, core.CapTake)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		if before.Status == core.SessionClosed {
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonAlreadyClosed}
		}
		if before.AssignedTo != "" {
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonAlreadyAssigned}
		}
		open, err := tx.CountOpenSessions(agent.ID)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		ok, err := l.policy.CanAccept(agent, open)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		if !ok {
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonCapacityReached}
		}

		now := l.clock.Now()
		claimed, err := tx.ClaimSession(sessionID, agent.ID, now)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		if !claimed {
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonAlreadyAssigned}
		}
		after := opened(before, agent.ID, now)
		entry, err := audit.NewEntry(agent.ID, core.AuditTake, &before, &after, now)
		return after, entry, err
	})
}

// Close ends a session. Only the assignee may close it unless the actor's
// role carries close_any. Closing twice is a ConflictError.
func (l *Lifecycle) Close(ctx context.Context, sessionID, actorID string) (core.Session, error) {
	return l.transition(ctx, sessionID, core.EventSessionClosed, func(tx storage.Tx, before core.Session) (core.Session, core.AuditEntry, error) {
		who, err := actor(tx, actorID, core.CapCloseOwn)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		switch before.Status {
		case core.SessionClosed:
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonAlreadyClosed}
		case core.SessionPending:
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonNotAssigned}
		}
		if before.AssignedTo != who.ID && !who.Role.Can(core.CapCloseAny) {
			return core.Session{}, core.AuditEntry{}, &core.AuthorizationError{
				Actor:  actorID,
				Action: "close",
				Reason: "session is assigned to another agent",
			}
		}

		now := l.clock.Now()
		closed := now
		after := before
		after.Status = core.SessionClosed
		after.ClosedAt = &closed
		after.UpdatedAt = now
		if err := tx.SaveSession(after); err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		entry, err := audit.NewEntry(who.ID, core.AuditClose, &before, &after, now)
		return after, entry, err
	})
}

// Reopen returns a closed session to the pending queue with no assignee.
func (l *Lifecycle) Reopen(ctx context.Context, sessionID, actorID string) (core.Session, error) {
	return l.transition(ctx, sessionID, core.EventSessionReopened, func(tx storage.Tx, before core.Session) (core.Session, core.AuditEntry, error) {
		who, err := actor(tx, actorID, core.CapReopen)
		if err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		if before.Status != core.SessionClosed {
			return core.Session{}, core.AuditEntry{}, &core.ConflictError{SessionID: sessionID, Reason: core.ReasonNotClosed}
		}

		now := l.clock.Now()
		after := before
		after.Status = core.SessionPending
		after.AssignedTo = ""
		after.ClosedAt = nil
		after.UpdatedAt = now
		if err := tx.SaveSession(after); err != nil {
			return core.Session{}, core.AuditEntry{}, err
		}
		entry, err := audit.NewEntry(who.ID, core.AuditReopen, &before, &after, now)
		return after, entry, err
	})
}

type mutation func(tx storage.Tx, before core.Session) (core.Session, core.AuditEntry, error)

// transition runs fn under the session lock, appends its audit entry in the
// same transaction and fires side effects once the transaction commits.
func (l *Lifecycle) transition(ctx context.Context, sessionID string, kind core.EventType, fn mutation) (core.Session, error) {
	var (
		after core.Session
		entry core.AuditEntry
	)
	err := l.store.WithLock(ctx, sessionID, func(tx storage.Tx, before core.Session) error {
		var err error
		after, entry, err = fn(tx, before)
		if err != nil {
			return err
		}
		entry, err = tx.AppendAudit(entry)
		return err
	})
	if err != nil {
		return core.Session{}, err
	}

	l.effects.Emit(ctx, core.Event{Type: kind, Agent: entry.Actor, Session: &after, CreatedAt: after.UpdatedAt})
	l.effects.Record(ctx, entry)
	l.logger.InfoContext(ctx, "session transition", "session_id", sessionID, "event", string(kind), "actor", entry.Actor)
	return after, nil
}

// actor loads and locks the acting agent and checks it may use capability c.
func actor(tx storage.Tx, id string, c core.Capability) (core.Agent, error) {
	a, err := tx.LockAgent(id)
	if errors.Is(err, core.ErrNotFound) {
		return core.Agent{}, &core.AuthorizationError{Actor: id, Action: c.String(), Reason: "unknown actor"}
	}
	if err != nil {
		return core.Agent{}, err
	}
	if !a.IsActive {
		return core.Agent{}, &core.AuthorizationError{Actor: id, Action: c.String(), Reason: "account inactive"}
	}
	if !a.Role.Can(c) {
		return core.Agent{}, &core.AuthorizationError{Actor: id, Action: c.String(), Reason: fmt.Sprintf("role %q lacks %s", a.Role, c)}
	}
	return a, nil
}
