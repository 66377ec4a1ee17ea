package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ufcsu/clubportal/clubs"
)

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, uuid, club_id, name, start_at, end_at, location, description,
	recurring_event_id, created_at, updated_at`

func (c *conn) CreateEvent(ctx context.Context, ev *clubs.Event) error {
	return c.insertEvent(ctx, ev)
}

func (c *conn) insertEvent(ctx context.Context, ev *clubs.Event) error {
	if ev.UUID == "" {
		ev.UUID = uuid.NewString()
	}
	ev.StartAt = ev.StartAt.UTC()
	ev.EndAt = ev.EndAt.UTC()
	ev.CreatedAt = c.now()
	ev.UpdatedAt = ev.CreatedAt

	id, err := c.insert(ctx, `
		INSERT INTO events
		(uuid, club_id, name, start_at, end_at, location, description,
		 recurring_event_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.UUID, ev.ClubID, ev.Name, formatTime(ev.StartAt), formatTime(ev.EndAt),
		ev.Location, ev.Description, nullInt64(ev.RecurringEventID),
		formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return clubs.ErrDuplicate
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	ev.ID = id
	return nil
}

func (c *conn) GetEvent(ctx context.Context, id int64) (clubs.Event, error) {
	ev, err := scanEvent(c.queryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.Event{}, clubs.ErrNotFound
	}
	return ev, err
}

func (c *conn) ListEvents(ctx context.Context, clubID int64) ([]clubs.Event, error) {
	return c.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE club_id = ? ORDER BY start_at, id", clubID)
}

func (c *conn) FutureEvents(ctx context.Context, clubID int64, after time.Time) ([]clubs.Event, error) {
	return c.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE club_id = ? AND start_at > ? ORDER BY start_at, id",
		clubID, formatTime(after))
}

func (c *conn) UpdateEvent(ctx context.Context, ev clubs.Event) error {
	err := c.execOne(ctx, clubs.ErrNotFound, `
		UPDATE events
		SET name = ?, start_at = ?, end_at = ?, location = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		ev.Name, formatTime(ev.StartAt), formatTime(ev.EndAt), ev.Location, ev.Description,
		formatTime(c.now()), ev.ID,
	)
	if isUniqueConstraintError(err) {
		return clubs.ErrDuplicate
	}
	return err
}

// =============================================================================
// OCCURRENCES (clubs.OccurrenceStore interface)
// =============================================================================

func (c *conn) ListOccurrences(ctx context.Context, recurringEventID int64) ([]clubs.Event, error) {
	return c.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE recurring_event_id = ? ORDER BY start_at, id",
		recurringEventID)
}

// DeleteEvents removes the events; their attendance rows cascade.
func (c *conn) DeleteEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := c.exec(ctx, "DELETE FROM events WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// UpsertOccurrence finds the row with ev's key and merges into it, or inserts
// ev. Callers that need atomicity run it inside WithTx.
func (c *conn) UpsertOccurrence(ctx context.Context, ev clubs.Event) (clubs.Event, bool, error) {
	var recurringID int64
	if ev.RecurringEventID != nil {
		recurringID = *ev.RecurringEventID
	}

	existing, err := scanEvent(c.queryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE name = ? AND club_id = ? AND start_at = ? AND end_at = ?
		  AND COALESCE(recurring_event_id, 0) = ?`,
		ev.Name, ev.ClubID, formatTime(ev.StartAt), formatTime(ev.EndAt), recurringID,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := c.insertEvent(ctx, &ev); err != nil {
			return clubs.Event{}, false, err
		}
		return ev, true, nil
	case err != nil:
		return clubs.Event{}, false, fmt.Errorf("failed to look up occurrence: %w", err)
	}

	merged := clubs.OccurrenceMerge.Apply(existing, ev)
	merged.UpdatedAt = c.now()
	_, err = c.exec(ctx,
		"UPDATE events SET location = ?, description = ?, updated_at = ? WHERE id = ?",
		merged.Location, merged.Description, formatTime(merged.UpdatedAt), merged.ID,
	)
	if err != nil {
		return clubs.Event{}, false, fmt.Errorf("failed to merge occurrence: %w", err)
	}
	return merged, false, nil
}

func (c *conn) queryEvents(ctx context.Context, query string, args ...any) ([]clubs.Event, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []clubs.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(s scanner) (clubs.Event, error) {
	var (
		ev               clubs.Event
		startAt, endAt   string
		created, updated string
		recurringID      sql.NullInt64
	)
	err := s.Scan(&ev.ID, &ev.UUID, &ev.ClubID, &ev.Name, &startAt, &endAt,
		&ev.Location, &ev.Description, &recurringID, &created, &updated)
	if err != nil {
		return ev, err
	}
	ev.StartAt = parseTime(startAt)
	ev.EndAt = parseTime(endAt)
	ev.CreatedAt = parseTime(created)
	ev.UpdatedAt = parseTime(updated)
	if recurringID.Valid {
		id := recurringID.Int64
		ev.RecurringEventID = &id
	}
	return ev, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// =============================================================================
// RECURRING EVENTS
// =============================================================================

const recurringColumns = `id, club_id, name, start_date, end_date, day, event_start_time,
	event_end_time, location, description, created_at, updated_at`

func (c *conn) CreateRecurringEvent(ctx context.Context, r *clubs.RecurringEvent) error {
	r.CreatedAt = c.now()
	r.UpdatedAt = r.CreatedAt
	id, err := c.insert(ctx, `
		INSERT INTO recurring_events
		(club_id, name, start_date, end_date, day, event_start_time, event_end_time,
		 location, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ClubID, r.Name, r.StartDate.String(), r.EndDate.String(), int(r.Day),
		r.EventStartTime.String(), r.EventEndTime.String(), r.Location, r.Description,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create recurring event: %w", err)
	}
	r.ID = id
	return nil
}

func (c *conn) GetRecurringEvent(ctx context.Context, id int64) (clubs.RecurringEvent, error) {
	r, err := scanRecurring(c.queryRow(ctx, "SELECT "+recurringColumns+" FROM recurring_events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.RecurringEvent{}, clubs.ErrNotFound
	}
	return r, err
}

func (c *conn) ListRecurringEvents(ctx context.Context, clubID int64) ([]clubs.RecurringEvent, error) {
	query := "SELECT " + recurringColumns + " FROM recurring_events"
	var args []any
	if clubID != 0 {
		query += " WHERE club_id = ?"
		args = append(args, clubID)
	}
	rows, err := c.query(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring events: %w", err)
	}
	defer rows.Close()

	var out []clubs.RecurringEvent
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *conn) UpdateRecurringEvent(ctx context.Context, r clubs.RecurringEvent) error {
	return c.execOne(ctx, clubs.ErrNotFound, `
		UPDATE recurring_events
		SET name = ?, start_date = ?, end_date = ?, day = ?, event_start_time = ?,
		    event_end_time = ?, location = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.StartDate.String(), r.EndDate.String(), int(r.Day),
		r.EventStartTime.String(), r.EventEndTime.String(), r.Location, r.Description,
		formatTime(c.now()), r.ID,
	)
}

// DeleteRecurringEvent removes the template. Occurrences are kept with
// recurring_event_id set to NULL by the foreign key. When a detached
// occurrence would share its key with a one-off event the unique index
// rejects the delete and ErrDuplicate is returned.
func (c *conn) DeleteRecurringEvent(ctx context.Context, id int64) error {
	err := c.execOne(ctx, clubs.ErrNotFound, "DELETE FROM recurring_events WHERE id = ?", id)
	if isUniqueConstraintError(err) {
		return clubs.ErrDuplicate
	}
	return err
}

func scanRecurring(s scanner) (clubs.RecurringEvent, error) {
	var (
		r                  clubs.RecurringEvent
		startDate, endDate string
		day                int
		startTime, endTime string
		created, updated   string
	)
	err := s.Scan(&r.ID, &r.ClubID, &r.Name, &startDate, &endDate, &day, &startTime,
		&endTime, &r.Location, &r.Description, &created, &updated)
	if err != nil {
		return r, err
	}

	if r.StartDate, err = clubs.ParseDate(startDate); err != nil {
		return r, fmt.Errorf("recurring event %d: %w", r.ID, err)
	}
	if r.EndDate, err = clubs.ParseDate(endDate); err != nil {
		return r, fmt.Errorf("recurring event %d: %w", r.ID, err)
	}
	if r.EventStartTime, err = clubs.ParseClock(startTime); err != nil {
		return r, fmt.Errorf("recurring event %d: %w", r.ID, err)
	}
	if r.EventEndTime, err = clubs.ParseClock(endTime); err != nil {
		return r, fmt.Errorf("recurring event %d: %w", r.ID, err)
	}
	r.Day = clubs.Weekday(day)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}
