/*
scheduler.go - Periodic recurring event sync

PURPOSE:
  Re-runs reconciliation for every recurring event template on a cron
  schedule, so occurrences stay consistent with their templates even when
  a sync triggered by an edit failed or rows were changed out of band.

DESIGN:
  - robfig/cron drives the schedule (config sync_cron, default "@every 1h")
  - An empty schedule disables the scheduler
  - Runs never overlap: cron skips a tick while the previous run is active,
    and RunNow shares the same mutex
  - Every run is logged and recorded in the sync metrics

USAGE:
  scheduler := NewSyncScheduler(service, "@every 1h", metrics, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - clubs/sync.go: Syncer
  - handlers.go: SyncRecurringEvents endpoint (manual bulk sync)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ufcsu/clubportal/clubs"
)

// SyncScheduler runs clubs.Service.SyncRecurringEvents on a schedule.
type SyncScheduler struct {
	Clubs   *clubs.Service
	Metrics *Metrics
	Log     logrus.FieldLogger
	Spec    string

	cron *cron.Cron
	mu   sync.Mutex
}

// NewSyncScheduler creates a scheduler. It does nothing until Start.
func NewSyncScheduler(svc *clubs.Service, spec string, metrics *Metrics, log logrus.FieldLogger) *SyncScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SyncScheduler{
		Clubs:   svc,
		Metrics: metrics,
		Log:     log.WithField("component", "sync-scheduler"),
		Spec:    spec,
	}
}

// Start begins the scheduler. An invalid spec is an error; an empty spec
// leaves the scheduler disabled.
func (s *SyncScheduler) Start() error {
	if s.Spec == "" {
		s.Log.Info("disabled, not starting")
		return nil
	}

	logger := cronLogger{s.Log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.Spec, func() { s.run(context.Background(), "cron") }); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron = c

	s.Log.WithFields(logrus.Fields{"schedule": s.Spec, "next_run": s.NextRun()}).Info("started")
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *SyncScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("stopped")
}

// RunNow triggers an immediate sync of every template.
func (s *SyncScheduler) RunNow(ctx context.Context) ([]clubs.SyncReport, error) {
	return s.run(ctx, "manual")
}

// NextRun returns when the next scheduled sync will occur, or the zero time
// when the scheduler is not running.
func (s *SyncScheduler) NextRun() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *SyncScheduler) run(ctx context.Context, trigger string) ([]clubs.SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	reports, err := s.Clubs.SyncRecurringEvents(ctx, nil)
	took := time.Since(start)
	s.Metrics.observeRun(trigger, took, err)

	var total clubs.SyncResult
	for _, rep := range reports {
		total = total.Add(rep.Result)
	}
	log := s.Log.WithFields(logrus.Fields{
		"trigger":   trigger,
		"templates": len(reports),
		"created":   total.Created,
		"updated":   total.Updated,
		"deleted":   total.Deleted,
		"took":      took,
	})
	if err != nil {
		log.WithError(err).Error("sync run failed")
		return reports, err
	}
	log.Info("sync run completed")
	return reports, nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
