/*
sync.go - Recurring event reconciliation

PURPOSE:
  A RecurringEvent is a weekly template. The Syncer makes the stored
  occurrences of a template match what the template currently implies:
  missing occurrences are created, stale ones deleted, and existing ones
  merged without losing user edits.

ALGORITHM:
  1. Expected set. anchor = Monday of the week containing StartDate.
     Candidates are anchor + Day + 7*i for i in [0, weeks), where
     weeks = floor((EndDate - anchor) / 7) + 1. Candidates outside
     [StartDate, EndDate] are dropped. EndDate < StartDate yields nothing.
  2. Stale removal. Every stored occurrence of the template whose local start
     date is out of range or falls on another weekday is deleted in one
     batch. Occurrences a user edited (name or times) are otherwise kept.
     Resync also removes rows still carrying a key the previous version of
     the template implied but the current one does not: those were never
     edited and would otherwise linger next to their replacements.
  3. Upsert. Each expected occurrence is upserted on its OccurrenceKey using
     OccurrenceMerge (location overwritten, description kept when set).

IDEMPOTENCE:
  A second run with an unchanged template deletes nothing and creates
  nothing; every occurrence is reported as updated (merged in place).

TIMEZONES:
  Template dates and clocks are wall-clock values in Syncer.Location. The
  same location is used to compute the local date of stored occurrences when
  checking staleness, so both sides use one weekday convention.

SEE ALSO:
  - weekday.go: Weekday / Date / Clock
  - store.go: OccurrenceStore, TxStore, OccurrenceMerge
  - api/scheduler.go: Periodic SyncAll
*/
package clubs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncResult summarises one reconciliation.
type SyncResult struct {
	Created int
	Updated int
	Deleted int
}

func (r SyncResult) Add(o SyncResult) SyncResult {
	return SyncResult{Created: r.Created + o.Created, Updated: r.Updated + o.Updated, Deleted: r.Deleted + o.Deleted}
}

// SyncReport ties a result to its template.
type SyncReport struct {
	RecurringEventID int64
	Name             string
	Result           SyncResult
}

// Syncer reconciles occurrences for recurring event templates.
type Syncer struct {
	Store    OccurrenceStore
	Location *time.Location
	Logger   logrus.FieldLogger

	// OnSync, when set, is called after each successful reconciliation.
	OnSync func(rec RecurringEvent, result SyncResult)
}

// NewSyncer creates a Syncer. A nil location means UTC, a nil logger discards.
func NewSyncer(store OccurrenceStore, loc *time.Location, logger logrus.FieldLogger) *Syncer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Syncer{Store: store, Location: loc, Logger: logger}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// =============================================================================
// EXPECTED OCCURRENCES
// =============================================================================

// OccurrenceDates returns the dates the template implies, in ascending order.
func (r RecurringEvent) OccurrenceDates() []Date {
	if r.StartDate.IsZero() || r.EndDate.IsZero() || r.EndDate.Before(r.StartDate) || !r.Day.Valid() {
		return nil
	}

	anchor := r.StartDate.WeekStart()
	weeks := anchor.DaysUntil(r.EndDate)/7 + 1

	dates := make([]Date, 0, weeks)
	for i := 0; i < weeks; i++ {
		d := anchor.AddDays(int(r.Day) + 7*i)
		if d.Before(r.StartDate) || d.After(r.EndDate) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// Occurrences builds the events the template implies, with wall-clock times
// interpreted in loc and instants normalised to UTC.
func (r RecurringEvent) Occurrences(loc *time.Location) []Event {
	if loc == nil {
		loc = time.UTC
	}
	dates := r.OccurrenceDates()
	events := make([]Event, 0, len(dates))
	for _, d := range dates {
		id := r.ID
		events = append(events, Event{
			ClubID:           r.ClubID,
			Name:             r.Name,
			StartAt:          r.EventStartTime.On(d, loc).UTC(),
			EndAt:            r.EventEndTime.On(d, loc).UTC(),
			Location:         r.Location,
			Description:      r.Description,
			RecurringEventID: &id,
		})
	}
	return events
}

// =============================================================================
// SYNC
// =============================================================================

// Sync reconciles the stored occurrences of rec. Persistence errors abort the
// run and are returned; with a TxStore nothing is committed in that case.
func (s *Syncer) Sync(ctx context.Context, rec RecurringEvent) (SyncResult, error) {
	return s.reconcile(ctx, nil, rec)
}

// Resync reconciles rec after it was edited from prev. Occurrences whose key
// prev implied and rec no longer implies are deleted along with the usual
// stale ones; occurrences with any other key are left to the range and
// weekday rules.
func (s *Syncer) Resync(ctx context.Context, prev, rec RecurringEvent) (SyncResult, error) {
	return s.reconcile(ctx, &prev, rec)
}

func (s *Syncer) reconcile(ctx context.Context, prev *RecurringEvent, rec RecurringEvent) (SyncResult, error) {
	var result SyncResult
	run := func(store OccurrenceStore) error {
		r, err := s.sync(ctx, store, prev, rec)
		result = r
		return err
	}

	var err error
	if tx, ok := s.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(s.Store)
	}

	log := s.logger().WithFields(logrus.Fields{
		"recurring_event_id": rec.ID,
		"club_id":            rec.ClubID,
		"name":               rec.Name,
	})
	if err != nil {
		log.WithError(err).Error("recurring event sync failed")
		return SyncResult{}, fmt.Errorf("sync recurring event %d: %w", rec.ID, err)
	}

	log.WithFields(logrus.Fields{
		"created": result.Created,
		"updated": result.Updated,
		"deleted": result.Deleted,
	}).Info("recurring event synced")

	if s.OnSync != nil {
		s.OnSync(rec, result)
	}
	return result, nil
}

// SyncAll reconciles each template in order and stops at the first error.
func (s *Syncer) SyncAll(ctx context.Context, recs []RecurringEvent) ([]SyncReport, error) {
	reports := make([]SyncReport, 0, len(recs))
	for _, rec := range recs {
		result, err := s.Sync(ctx, rec)
		if err != nil {
			return reports, err
		}
		reports = append(reports, SyncReport{RecurringEventID: rec.ID, Name: rec.Name, Result: result})
	}
	return reports, nil
}

func (s *Syncer) sync(ctx context.Context, store OccurrenceStore, prev *RecurringEvent, rec RecurringEvent) (SyncResult, error) {
	var result SyncResult

	expected := rec.Occurrences(s.location())
	retired := make(map[OccurrenceKey]bool)
	if prev != nil {
		want := make(map[OccurrenceKey]bool, len(expected))
		for _, ev := range expected {
			want[ev.Key()] = true
		}
		for _, ev := range prev.Occurrences(s.location()) {
			if k := ev.Key(); !want[k] {
				retired[k] = true
			}
		}
	}

	existing, err := store.ListOccurrences(ctx, rec.ID)
	if err != nil {
		return result, err
	}

	var stale []int64
	for _, ev := range existing {
		reason := s.staleReason(rec, ev, retired)
		if reason == "" {
			continue
		}
		s.logger().WithFields(logrus.Fields{
			"event_id": ev.ID,
			"start_at": ev.StartAt,
			"reason":   reason,
		}).Debug("removing stale occurrence")
		stale = append(stale, ev.ID)
	}
	if len(stale) > 0 {
		if err := store.DeleteEvents(ctx, stale); err != nil {
			return result, err
		}
		result.Deleted = len(stale)
	}

	for _, ev := range expected {
		_, created, err := store.UpsertOccurrence(ctx, ev)
		if err != nil {
			return result, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	return result, nil
}

// staleReason returns why ev should be removed, or "" when it is still valid.
func (s *Syncer) staleReason(rec RecurringEvent, ev Event, retired map[OccurrenceKey]bool) string {
	day := DateOf(ev.StartAt.In(s.location()))
	switch {
	case rec.EndDate.Before(rec.StartDate):
		return "empty date range"
	case day.Before(rec.StartDate) || day.After(rec.EndDate):
		return "outside date range"
	case day.Weekday() != rec.Day:
		return "wrong weekday"
	case retired[ev.Key()]:
		return "replaced by template edit"
	}
	return ""
}

func (s *Syncer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return discardLogger()
	}
	return s.Logger
}

func (s *Syncer) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
