/*
scheduler.go - Periodic balance audit

PURPOSE:
  Runs Engine.Audit on a cron schedule and keeps the last report for the
  API. Mismatches are logged at error level; nothing is repaired.

CONFIGURATION:
  - Schedule: six-field cron expression with seconds
    (default "0 5 0 * * *", five past midnight)
  - Enabled: whether Start registers the job at all

USAGE:
  s := ledger.NewAuditScheduler(engine, "0 5 0 * * *", logger)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()
*/
package ledger

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultAuditSchedule = "0 5 0 * * *"

// AuditScheduler triggers audits in the background.
type AuditScheduler struct {
	Engine   *Engine
	Schedule string
	Enabled  bool

	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	last    *AuditReport
}

// NewAuditScheduler creates an enabled scheduler. An empty schedule falls
// back to DefaultAuditSchedule.
func NewAuditScheduler(engine *Engine, schedule string, logger *zap.Logger) *AuditScheduler {
	if schedule == "" {
		schedule = DefaultAuditSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Engine:   engine,
		Schedule: schedule,
		Enabled:  true,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger.With(zap.String("component", "audit-scheduler")),
	}
}

// Start registers the audit job and starts cron. It fails on a bad schedule.
func (s *AuditScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return nil
	}
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.Schedule, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("started", zap.String("schedule", s.Schedule))
	return nil
}

// Stop waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("stopped")
}

// RunNow audits immediately, outside the schedule.
func (s *AuditScheduler) RunNow(ctx context.Context) (AuditReport, error) {
	report, err := s.Engine.Audit(ctx)
	if err != nil {
		return report, err
	}
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent completed audit, if any.
func (s *AuditScheduler) LastReport() (AuditReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return AuditReport{}, false
	}
	return *s.last, true
}

func (s *AuditScheduler) runScheduled() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.logger.Error("audit failed", zap.Error(err))
	}
}
