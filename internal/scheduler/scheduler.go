// Package scheduler runs named background jobs, each on its own ticker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the job once immediately before the first tick.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler starts every registered job in its own goroutine. Job errors and
// panics are logged and never stop the job.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", j.Name)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Start launches the job goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	if j.RunOnStart {
		s.runOnce(ctx, j)
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "job panicked", "job", j.Name, "panic", fmt.Sprint(r))
		}
	}()
	start := time.Now()
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "job failed", "job", j.Name, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "job done", "job", j.Name, "took", time.Since(start))
}
