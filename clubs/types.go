/*
Package clubs provides the club domain: clubs, roles, memberships, events and
recurring event templates.

PURPOSE:
  Holds the domain types and the two pieces of real logic in the system:
  the recurring-event Syncer (reconciles generated occurrences against a
  template) and the ClubService that the HTTP layer calls into.

KEY CONCEPTS IN THIS FILE (types.go):
  - Club, ClubRole, Membership: who belongs where
  - RecurringEvent: a weekly template, never scheduled by itself
  - Event: one concrete occurrence, optionally generated from a template
  - Attendance: a member showed up at an event

IDENTITY OF OCCURRENCES:
  (Name, ClubID, StartAt, EndAt, RecurringEventID) is unique. The Syncer
  upserts on exactly this key, so re-running it never duplicates rows.

SEE ALSO:
  - sync.go: Recurring event reconciliation
  - service.go: Business operations
  - store.go: Persistence interfaces
*/
package clubs

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLUBS & MEMBERSHIP
// =============================================================================

type Club struct {
	ID          int64
	UUID        string
	Name        string
	Alias       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c Club) String() string { return c.Name }

// ClubRole is a named role scoped to one club. At most one role per club is
// the default; new members receive it when no roles are given.
type ClubRole struct {
	ID        int64
	ClubID    int64
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

type Membership struct {
	ID        int64
	ClubID    int64
	UserID    int64
	Roles     []ClubRole
	Points    decimal.Decimal
	IsOwner   bool
	CreatedAt time.Time
}

// HasRole reports whether the member holds a role with the given name.
func (m Membership) HasRole(name string) bool {
	for _, r := range m.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is one concrete occurrence. StartAt/EndAt are instants; the store keeps
// them in UTC.
type Event struct {
	ID               int64
	UUID             string
	ClubID           int64
	Name             string
	StartAt          time.Time
	EndAt            time.Time
	Location         string
	Description      string
	RecurringEventID *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsRecurring reports whether the event was generated from a template.
func (e Event) IsRecurring() bool { return e.RecurringEventID != nil }

// OccurrenceKey is the uniqueness identity of an event. Instants are kept
// as unix seconds so keys compare equal regardless of location.
type OccurrenceKey struct {
	Name             string
	ClubID           int64
	Start            int64
	End              int64
	RecurringEventID int64 // 0 for one-off events
}

func (e Event) Key() OccurrenceKey {
	k := OccurrenceKey{
		Name:   e.Name,
		ClubID: e.ClubID,
		Start:  e.StartAt.Unix(),
		End:    e.EndAt.Unix(),
	}
	if e.RecurringEventID != nil {
		k.RecurringEventID = *e.RecurringEventID
	}
	return k
}

// RecurringEvent is a template describing a weekly event between StartDate
// and EndDate (both inclusive).
type RecurringEvent struct {
	ID             int64
	ClubID         int64
	Name           string
	StartDate      Date
	EndDate        Date
	Day            Weekday
	EventStartTime Clock
	EventEndTime   Clock
	Location       string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r RecurringEvent) String() string { return r.Name }

// Validate checks the template invariants. The Syncer does not call this;
// it tolerates inverted ranges by generating nothing.
func (r RecurringEvent) Validate() error {
	switch {
	case r.Name == "":
		return &ValidationError{Field: "name", Message: "name is required"}
	case r.StartDate.IsZero() || r.EndDate.IsZero():
		return &ValidationError{Field: "start_date", Message: "start and end dates are required"}
	case r.EndDate.Before(r.StartDate):
		return &ValidationError{Field: "end_date", Message: "end date must not be before start date"}
	case !r.Day.Valid():
		return &ValidationError{Field: "day", Message: "day must be between 0 (Monday) and 6 (Sunday)"}
	case !r.EventStartTime.Before(r.EventEndTime):
		return &ValidationError{Field: "event_start_time", Message: "event start time must be before end time"}
	}
	return nil
}

// ExpectedEventCount is the number of occurrences the template implies.
func (r RecurringEvent) ExpectedEventCount() int {
	return len(r.OccurrenceDates())
}

type Attendance struct {
	ID           int64
	MembershipID int64
	EventID      int64
	CreatedAt    time.Time
}
