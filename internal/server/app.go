package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nusagates/laragates-sub001/internal/archive"
	"github.com/nusagates/laragates-sub001/internal/audit"
	"github.com/nusagates/laragates-sub001/internal/auth"
	"github.com/nusagates/laragates-sub001/internal/clock"
	"github.com/nusagates/laragates-sub001/internal/config"
	httpapi "github.com/nusagates/laragates-sub001/internal/http"
	"github.com/nusagates/laragates-sub001/internal/routing"
	"github.com/nusagates/laragates-sub001/internal/scheduler"
	"github.com/nusagates/laragates-sub001/internal/sla"
	"github.com/nusagates/laragates-sub001/internal/storage/sqlite"
	"github.com/nusagates/laragates-sub001/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// App is one wired laragates instance.
type App struct {
	Config    *config.Config
	Store     *sqlite.ResilientStore
	Hub       *ws.Hub
	Engine    *routing.Engine
	Lifecycle *routing.Lifecycle
	Presence  *routing.Presence
	SLA       *sla.Evaluator
	// Archiver is nil unless archiving is enabled.
	Archiver  *archive.Archiver
	Scheduler *scheduler.Scheduler
	Handler   http.Handler

	logger *slog.Logger
}

// Build opens the store and wires every component from cfg. The caller owns
// the returned App and must Close it.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inner, err := sqlite.New(cfg.DBPath, sqlite.WithLockTimeout(cfg.LockTimeout), sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	app, err := assemble(cfg, sqlite.NewResilient(inner), logger)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return app, nil
}

func assemble(cfg *config.Config, store *sqlite.ResilientStore, logger *slog.Logger) (*App, error) {
	keyring, err := auth.LoadKeyring(cfg.KeysFile)
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}

	hub := ws.NewHub(logger)
	policy := routing.NewPolicy(cfg.Capacity.DefaultMaxOpen)
	opts := []routing.Option{
		routing.WithClock(clock.Real()),
		routing.WithLogger(logger),
		routing.WithNotifier(hub),
		routing.WithAuditSink(audit.LogSink{Logger: logger.With("component", "audit")}),
	}
	app := &App{
		Config:    cfg,
		Store:     store,
		Hub:       hub,
		Engine:    routing.NewEngine(store, policy, opts...),
		Lifecycle: routing.NewLifecycle(store, policy, opts...),
		Scheduler: scheduler.New(logger),
		logger:    logger,
	}
	app.Presence = routing.NewPresence(store, app.Engine, opts...)
	app.SLA = sla.NewEvaluator(store, cfg.Thresholds(), sla.WithNotifier(hub), sla.WithLogger(logger))
	if cfg.Archive.Enabled {
		app.Archiver, err = archive.New(store, archive.Config{
			Dir:       cfg.Archive.Dir,
			Retention: cfg.Archive.Retention,
			BatchSize: cfg.Archive.BatchSize,
		}, archive.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}

	svc := httpapi.NewService(store, httpapi.Components{
		Engine:    app.Engine,
		Lifecycle: app.Lifecycle,
		Presence:  app.Presence,
		SLA:       app.SLA,
	}).WithNotifier(hub).WithLogger(logger).WithHealth(func() map[string]string {
		return map[string]string{"store": store.CircuitBreakerState()}
	})
	limiter := httpapi.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	app.Handler = httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring), limiter.Middleware)

	if err := app.addJobs(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) addJobs() error {
	jobs := []scheduler.Job{
		{
			Name:       "sla",
			Interval:   a.Config.SLA.SweepInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := a.SLA.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "presence",
			Interval: presenceInterval(a.Config.HeartbeatGrace),
			Run: func(ctx context.Context) error {
				_, err := a.Presence.ExpireStale(ctx, a.Config.HeartbeatGrace)
				return err
			},
		},
		{
			// Catches sessions left pending when no agent had room.
			Name:     "dispatch",
			Interval: presenceInterval(a.Config.HeartbeatGrace),
			Run: func(ctx context.Context) error {
				_, err := a.Engine.Dispatch(ctx)
				return err
			},
		},
	}
	if a.Archiver != nil {
		jobs = append(jobs, scheduler.Job{
			Name:     "archive",
			Interval: a.Config.Archive.Interval,
			Run: func(ctx context.Context) error {
				_, err := a.Archiver.Run(ctx)
				return err
			},
		})
	}
	for _, j := range jobs {
		if err := a.Scheduler.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// presenceInterval checks for stale agents a few times per grace period.
func presenceInterval(grace time.Duration) time.Duration {
	d := grace / 4
	if d < time.Second {
		d = time.Second
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Run serves HTTP and runs background jobs until ctx is cancelled, then
// shuts both down.
func (a *App) Run(ctx context.Context) error {
	srv, err := New(Config{
		Addr:       a.Config.ListenAddr,
		SocketPath: a.Config.SocketPath,
		Handler:    a.Handler,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (a *App) Close() error {
	return a.Store.Close()
}
