// Package routing decides which agent holds which chat session. All state
// changes go through a locked store transaction; notifications and audit
// forwarding run after commit and never affect the outcome.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// SystemActor is recorded as the actor of assignments made by the engine.
const SystemActor = "system"

type options struct {
	clock   clock.Clock
	logger  *slog.Logger
	effects BestEffort
}

type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *options) { o.effects.Notifier = n }
}

func WithAuditSink(s audit.Sink) Option {
	return func(o *options) { o.effects.Sink = s }
}

func buildOptions(component string, opts []Option) options {
	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	o.effects.Logger = o.logger
	return o
}

// Engine hands pending sessions to agents with spare capacity.
type Engine struct {
	store  storage.Store
	policy Policy
	options
}

func NewEngine(store storage.Store, policy Policy, opts ...Option) *Engine {
	return &Engine{store: store, policy: policy, options: buildOptions("engine", opts)}
}

// Policy returns the capacity policy the engine enforces.
func (e *Engine) Policy() Policy { return e.policy }

// AssignPendingTo fills the agent's free capacity from the pending queue,
// oldest session first, and returns how many sessions it claimed. An agent
// that is offline, inactive or already full gets nothing and no error.
func (e *Engine) AssignPendingTo(ctx context.Context, agentID string) (int, error) {
	var (
		claimed []core.Session
		entries []core.AuditEntry
	)
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		claimed, entries = claimed[:0], entries[:0]

		agent, err := tx.LockAgent(agentID)
		if err != nil {
			return err
		}
		if !agent.Role.Can(core.CapReceiveRouted) {
			return &core.AuthorizationError{
				Actor:  agentID,
				Action: core.CapReceiveRouted.String(),
				Reason: fmt.Sprintf("role %q is not routable", agent.Role),
			}
		}
		if !agent.Eligible() {
			return nil
		}
		open, err := tx.CountOpenSessions(agent.ID)
		if err != nil {
			return err
		}
		available, err := e.policy.Available(agent, open)
		if err != nil || available == 0 {
			return err
		}
		pending, err := tx.PendingSessions(available)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		for _, before := range pending {
			ok, err := tx.ClaimSession(before.ID, agent.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			after := opened(before, agent.ID, now)
			entry, err := audit.NewEntry(SystemActor, core.AuditAssign, &before, &after, now)
			if err != nil {
				return err
			}
			if entry, err = tx.AppendAudit(entry); err != nil {
				return err
			}
			claimed = append(claimed, after)
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range claimed {
		e.effects.Emit(ctx, core.Event{
			Type:      core.EventSessionAssigned,
			Agent:     agentID,
			Session:   &claimed[i],
			CreatedAt: claimed[i].UpdatedAt,
		})
	}
	e.effects.Record(ctx, entries...)
	if len(claimed) > 0 {
		e.logger.InfoContext(ctx, "sessions assigned", "agent_id", agentID, "count", len(claimed))
	}
	return len(claimed), nil
}

// Dispatch walks eligible agents from least to most loaded and fills each
// one to its ceiling from the pending queue before moving on, until the
// queue is empty or nobody has room. Sessions are not spread one per agent.
// A failure for one agent is logged and the next agent is tried.
func (e *Engine) Dispatch(ctx context.Context) (int, error) {
	loads, err := e.store.EligibleAgents(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, load := range loads {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if load.Open >= e.policy.MaxOpenSessions(load.Agent) {
			continue
		}
		n, err := e.AssignPendingTo(ctx, load.Agent.ID)
		if err != nil {
			e.logger.WarnContext(ctx, "dispatch to agent failed", "agent_id", load.Agent.ID, "error", err)
			continue
		}
		total += n
		remaining, err := e.store.ListSessions(ctx, storage.SessionFilter{Status: core.SessionPending, Limit: 1})
		if err != nil {
			return total, err
		}
		if len(remaining) == 0 {
			break
		}
	}
	return total, nil
}

// opened returns s as it looks after agentID claims it at now.
func opened(s core.Session, agentID string, now time.Time) core.Session {
	read := now
	s.AssignedTo = agentID
	s.Status = core.SessionOpen
	s.UpdatedAt = now
	s.LastAgentReadAt = &read
	return s
}
