// Package sla sweeps open sessions and tickets for threshold breaches. It
// only writes breach records and never touches assignment state.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/routing"
	"github.com/nusagates/laragates-sub001/internal/storage"
)

// Thresholds are expressed in minutes, as configured.
type Thresholds struct {
	PendingToOngoing int
	OngoingToClosed  map[core.Priority]int
}

// DefaultThresholds returns 15 minutes to pick up, and 240/120/60 minutes to
// resolve low/medium/high priority work.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PendingToOngoing: 15,
		OngoingToClosed: map[core.Priority]int{
			core.PriorityLow:    240,
			core.PriorityMedium: 120,
			core.PriorityHigh:   60,
		},
	}
}

// Validate rejects non-positive thresholds and missing priorities.
func (t Thresholds) Validate() error {
	if t.PendingToOngoing <= 0 {
		return fmt.Errorf("%w: pending_to_ongoing.max_minutes must be positive", core.ErrInvalidInput)
	}
	for _, p := range []core.Priority{core.PriorityLow, core.PriorityMedium, core.PriorityHigh} {
		if t.OngoingToClosed[p] <= 0 {
			return fmt.Errorf("%w: ongoing_to_closed.%s must be positive", core.ErrInvalidInput, p)
		}
	}
	return nil
}

// Stats summarises one sweep.
type Stats struct {
	Checked  int
	Breached int
	Existing int
	Errors   int
}

type Evaluator struct {
	store      storage.Store
	thresholds Thresholds
	clock      clock.Clock
	effects    routing.BestEffort
	logger     *slog.Logger
}

type Option func(*Evaluator)

func WithClock(c clock.Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithNotifier(n routing.Notifier) Option {
	return func(e *Evaluator) { e.effects.Notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEvaluator(store storage.Store, thresholds Thresholds, opts ...Option) *Evaluator {
	e := &Evaluator{store: store, thresholds: thresholds, clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "sla")
	e.effects.Logger = e.logger
	return e
}

// Sweep evaluates every non-closed session and ticket once. A failure on one
// entity is logged and counted; only a failure to list subjects aborts.
func (e *Evaluator) Sweep(ctx context.Context) (Stats, error) {
	subjects, err := e.store.SlaSubjects(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load sla subjects: %w", err)
	}
	now := e.clock.Now()
	var stats Stats
	for _, sub := range subjects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++
		breach, due := e.evaluate(sub, now)
		if !due {
			continue
		}
		stored, created, err := e.store.FindOrCreateBreach(ctx, breach)
		if err != nil {
			stats.Errors++
			e.logger.WarnContext(ctx, "record breach failed",
				"entity_type", string(sub.Type), "entity_id", sub.ID, "rule", string(breach.Rule), "error", err)
			continue
		}
		if !created {
			stats.Existing++
			continue
		}
		stats.Breached++
		e.effects.Emit(ctx, core.Event{Type: core.EventSlaBreached, Breach: &stored, CreatedAt: now})
	}
	if stats.Breached > 0 || stats.Errors > 0 {
		e.logger.InfoContext(ctx, "sla sweep", "checked", stats.Checked, "breached", stats.Breached, "errors", stats.Errors)
	}
	return stats, nil
}

// evaluate reports the breach sub is in at now, if any. Pending time is
// measured from creation, and breaches are keyed by entity, rule and status,
// so a reopened session that waits again is not flagged a second time.
func (e *Evaluator) evaluate(sub core.SlaSubject, now time.Time) (core.SlaBreach, bool) {
	var (
		rule      core.SlaRule
		since     time.Time
		threshold int
	)
	switch rule = ruleFor(sub); rule {
	case core.RulePendingToOngoing:
		since, threshold = sub.CreatedAt, e.thresholds.PendingToOngoing
	case core.RuleOngoingToClosed:
		since, threshold = sub.UpdatedAt, e.thresholds.OngoingToClosed[sub.Priority.OrDefault()]
	default:
		return core.SlaBreach{}, false
	}
	if threshold <= 0 {
		return core.SlaBreach{}, false
	}
	elapsed := now.Sub(since)
	if elapsed < time.Duration(threshold)*time.Minute {
		return core.SlaBreach{}, false
	}
	return core.SlaBreach{
		EntityType:       sub.Type,
		EntityID:         sub.ID,
		Rule:             rule,
		Status:           sub.Status,
		Severity:         sub.Priority.OrDefault(),
		ThresholdMinutes: threshold,
		ElapsedMinutes:   int(elapsed / time.Minute),
		BreachedAt:       now,
	}, true
}

func ruleFor(sub core.SlaSubject) core.SlaRule {
	switch sub.Type {
	case core.EntitySession:
		switch core.SessionStatus(sub.Status) {
		case core.SessionPending:
			return core.RulePendingToOngoing
		case core.SessionOpen:
			return core.RuleOngoingToClosed
		}
	case core.EntityTicket:
		switch core.TicketStatus(sub.Status) {
		case core.TicketPending:
			return core.RulePendingToOngoing
		case core.TicketOngoing:
			return core.RuleOngoingToClosed
		}
	}
	return ""
}
