// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hylla/ticketflow/internal/app"
	"github.com/robfig/cron/v3"
)

// BackfillRunner backfills workflow snapshots for every known tenant.
type BackfillRunner interface {
	BackfillAllTenants(context.Context) ([]app.BackfillResult, error)
}

// BackfillScheduler runs the snapshot backfill on a standard 5-field cron schedule.
type BackfillScheduler struct {
	cron     *cron.Cron
	schedule string
	runner   BackfillRunner
	log      app.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewBackfillScheduler validates the schedule and builds a stopped scheduler.
func NewBackfillScheduler(schedule string, runner BackfillRunner, logger app.Logger) (*BackfillScheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("backfill runner is required")
	}
	schedule = strings.TrimSpace(schedule)
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse backfill schedule %q: %w", schedule, err)
	}
	return &BackfillScheduler{
		cron:     cron.New(),
		schedule: schedule,
		runner:   runner,
		log:      logger,
	}, nil
}

// Start registers the backfill job and starts the cron loop. Jobs stop when ctx ends or Stop is called.
func (s *BackfillScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("backfill scheduler already running")
	}
	jobCtx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(jobCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("register backfill job: %w", err)
	}
	s.cancel = cancel
	s.running = true
	s.logInfo("backfill scheduler started", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *BackfillScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	done := s.cron.Stop()
	<-done.Done()
	s.running = false
	s.logInfo("backfill scheduler stopped")
}

// RunOnce runs one backfill pass and logs per-tenant results.
func (s *BackfillScheduler) RunOnce(ctx context.Context) []app.BackfillResult {
	if ctx.Err() != nil {
		return nil
	}
	results, err := s.runner.BackfillAllTenants(ctx)
	if err != nil {
		if s.log != nil {
			s.log.Error("scheduled backfill failed", "err", err)
		}
		return results
	}
	for _, res := range results {
		if res.Backfilled == 0 && res.Skipped == 0 {
			continue
		}
		s.logInfo("scheduled backfill applied",
			"tenant_id", res.TenantID,
			"scanned", res.Scanned,
			"backfilled", res.Backfilled,
			"skipped", res.Skipped,
		)
	}
	return results
}

func (s *BackfillScheduler) logInfo(msg string, keyvals ...any) {
	if s.log == nil {
		return
	}
	s.log.Info(msg, keyvals...)
}
