// Package reconcile runs a periodic sweep that reaps Traefik-subtree
// orphans: routers/services/middlewares left behind by a writer that
// crashed between writing the index and the Traefik projection.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is invoked on every scheduled tick; it returns the number of
// orphaned routes whose projection it reaped.
type Sweeper func(ctx context.Context) (int, error)

// Scheduler runs a Sweeper on a cron schedule, on top of the same
// reactive reaping that already happens inline on every successful
// mutation of a given spec -- this is the backstop for specs that are
// never touched again.
type Scheduler struct {
	sweep   Sweeper
	cron    *cron.Cron
	log     *zap.Logger
	mu      sync.Mutex
	running bool
}

func NewScheduler(sweep Sweeper, log *zap.Logger) *Scheduler {
	return &Scheduler{sweep: sweep, cron: cron.New(), log: log}
}

// Start schedules the sweep on schedule (standard five-field cron syntax).
// An empty schedule disables the scheduler entirely.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == "" {
		s.log.Info("orphan sweep schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("reconcile: invalid cron schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("reconcile: schedule sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.log.Info("orphan sweep scheduler started", zap.String("schedule", schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	n, err := s.sweep(ctx)
	if err != nil {
		s.log.Error("orphan sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("orphan sweep reaped stale route projections", zap.Int("count", n))
	} else {
		s.log.Debug("orphan sweep found nothing to reap")
	}
}

// Stop stops the scheduler and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		doneCtx := s.cron.Stop()
		<-doneCtx.Done()
		s.running = false
		s.log.Info("orphan sweep scheduler stopped")
	}
}
