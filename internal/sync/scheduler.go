package sync

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/edgecore-dev/edgecore/internal/logging"
)

// Scheduler drives Service.FlushQueue on a cron schedule that can be
// changed at runtime without restarting the process.
type Scheduler struct {
	svc *Service
	log *logging.Logger

	mu       sync.Mutex
	schedule string
	cronRun  *cron.Cron
}

// NewScheduler constructs a Scheduler bound to svc with the given initial
// cron expression (e.g. "@every 30s", or a standard 5-field expression).
func NewScheduler(svc *Service, schedule string, log *logging.Logger) *Scheduler {
	return &Scheduler{svc: svc, log: log, schedule: schedule}
}

// Run starts the cron-scheduled flush loop and blocks until ctx is
// cancelled. Changing the schedule mid-run via SetSchedule takes effect
// on the next tick without losing the running entry.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.mu.Lock()
	c := s.cronRun
	s.mu.Unlock()
	if c != nil {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}
	s.log.Info("sync scheduler stopped")
	return nil
}

func (s *Scheduler) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return err
	}
	c.Start()
	s.cronRun = c
	s.log.Info("sync scheduler started", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) tick() {
	result := s.svc.FlushQueue(context.Background())
	s.log.Info("sync flush complete", "sent", result.Sent, "failed", result.Failed, "remaining", result.Remaining)
}

// SetSchedule replaces the cron expression at runtime, restarting the
// underlying cron runner on the new schedule. Mirrors the reset-on-change
// pattern used elsewhere for runtime-adjustable intervals, adapted here to
// cron's own start/stop lifecycle since cron.Cron has no single-entry reset.
func (s *Scheduler) SetSchedule(schedule string) error {
	s.mu.Lock()
	old := s.cronRun
	s.schedule = schedule
	s.mu.Unlock()

	if old != nil {
		stopCtx := old.Stop()
		<-stopCtx.Done()
	}
	return s.start()
}

// CurrentSchedule returns the active cron expression.
func (s *Scheduler) CurrentSchedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}
