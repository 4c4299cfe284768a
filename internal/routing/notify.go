package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/core"
)

// Notifier fans an event out to whoever is listening. Delivery is fire and
// forget from the router's point of view.
type Notifier interface {
	Notify(ctx context.Context, kind core.EventType, payload any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, kind core.EventType, payload any) error

func (f NotifierFunc) Notify(ctx context.Context, kind core.EventType, payload any) error {
	return f(ctx, kind, payload)
}

// Multi delivers to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, kind core.EventType, payload any) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, kind, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BestEffort runs post-commit side effects. Failures and panics are logged
// and never reach the caller.
type BestEffort struct {
	Notifier Notifier
	Sink     audit.Sink
	Logger   *slog.Logger
}

func (b BestEffort) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Emit sends ev through the notifier.
func (b BestEffort) Emit(ctx context.Context, ev core.Event) {
	if b.Notifier == nil {
		return
	}
	b.guard(ctx, "notify", string(ev.Type), func() error {
		return b.Notifier.Notify(ctx, ev.Type, ev)
	})
}

// Record forwards committed audit entries to the external sink.
func (b BestEffort) Record(ctx context.Context, entries ...core.AuditEntry) {
	if b.Sink == nil {
		return
	}
	for _, e := range entries {
		b.guard(ctx, "audit", string(e.Action), func() error {
			return b.Sink.Record(ctx, e)
		})
	}
}

func (b BestEffort) guard(ctx context.Context, channel, kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger().ErrorContext(ctx, "side effect panicked", "channel", channel, "kind", kind, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		b.logger().WarnContext(ctx, "side effect failed", "channel", channel, "kind", kind, "error", err)
	}
}
