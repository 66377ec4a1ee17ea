/*
store.go - Persistence interfaces for the clubs domain

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  OccurrenceStore: What the recurring-event Syncer needs (list, bulk delete, upsert)
  TxStore:         OccurrenceStore with transactions
  EventStore:      Events plus the future-events-by-club query used by export
  Store:           Everything the ClubService needs

UPSERT CONTRACT:
  UpsertOccurrence looks the event up by Event.Key(). When absent it inserts
  the event as given. When present it merges the incoming fields into the
  stored row following OccurrenceMerge and reports created=false.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite / PostgreSQL
  - clubs/store/memory.go: In-memory for testing

SEE ALSO:
  - sync.go: Main consumer of OccurrenceStore
*/
package clubs

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OCCURRENCE STORE - Used by the Syncer
// =============================================================================

type OccurrenceStore interface {
	// ListOccurrences returns every event generated from the template.
	ListOccurrences(ctx context.Context, recurringEventID int64) ([]Event, error)

	// DeleteEvents removes the events with the given IDs. Unknown IDs are ignored.
	DeleteEvents(ctx context.Context, ids []int64) error

	// UpsertOccurrence creates the event or merges it into the existing row
	// with the same key. Returns the stored event and whether it was created.
	UpsertOccurrence(ctx context.Context, ev Event) (Event, bool, error)
}

// TxStore wraps OccurrenceStore with transaction support.
type TxStore interface {
	OccurrenceStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(OccurrenceStore) error) error
}

// =============================================================================
// DOMAIN STORES
// =============================================================================

type ClubStore interface {
	CreateClub(ctx context.Context, c *Club) error
	GetClub(ctx context.Context, id int64) (Club, error)
	ListClubs(ctx context.Context) ([]Club, error)
	UpdateClub(ctx context.Context, c Club) error
	DeleteClub(ctx context.Context, id int64) error
}

type RoleStore interface {
	CreateRole(ctx context.Context, r *ClubRole) error
	ListRoles(ctx context.Context, clubID int64) ([]ClubRole, error)
	GetRoleByName(ctx context.Context, clubID int64, name string) (ClubRole, error)
}

type MembershipStore interface {
	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, clubID, userID int64) (Membership, error)
	ListMemberships(ctx context.Context, clubID int64) ([]Membership, error)
	SetMembershipRoles(ctx context.Context, membershipID int64, roleIDs []int64) error
	AddMembershipRole(ctx context.Context, membershipID, roleID int64) error
	UpdateMembershipPoints(ctx context.Context, membershipID int64, points decimal.Decimal) error

	// RecordAttendance is get-or-create on (membership, event).
	RecordAttendance(ctx context.Context, a *Attendance) (bool, error)
	ListAttendance(ctx context.Context, membershipID int64) ([]Attendance, error)
}

type EventStore interface {
	OccurrenceStore

	CreateEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id int64) (Event, error)
	ListEvents(ctx context.Context, clubID int64) ([]Event, error)

	// UpdateEvent stores a user edit of an event. Changing the key fields to
	// those of another event returns ErrDuplicate.
	UpdateEvent(ctx context.Context, ev Event) error

	// FutureEvents returns the club's events starting strictly after `after`,
	// ordered by start time ascending.
	FutureEvents(ctx context.Context, clubID int64, after time.Time) ([]Event, error)
}

type RecurringEventStore interface {
	CreateRecurringEvent(ctx context.Context, r *RecurringEvent) error
	GetRecurringEvent(ctx context.Context, id int64) (RecurringEvent, error)

	// ListRecurringEvents lists templates of one club, or of all clubs when clubID is 0.
	ListRecurringEvents(ctx context.Context, clubID int64) ([]RecurringEvent, error)
	UpdateRecurringEvent(ctx context.Context, r RecurringEvent) error

	// DeleteRecurringEvent removes the template and detaches its occurrences.
	DeleteRecurringEvent(ctx context.Context, id int64) error
}

// Store is the full persistence surface of the clubs domain.
type Store interface {
	ClubStore
	RoleStore
	MembershipStore
	EventStore
	RecurringEventStore
}

// =============================================================================
// MERGE POLICY - create-or-conditionally-merge for occurrences
// =============================================================================

// FieldPolicy decides what happens to a stored field when an upsert hits an
// existing row.
type FieldPolicy int

const (
	// Overwrite always takes the incoming value.
	Overwrite FieldPolicy = iota
	// PreserveIfSet keeps the stored value unless it is empty.
	PreserveIfSet
)

// MergePolicy lists the per-field policies for the mutable occurrence fields.
// Key fields are never merged.
type MergePolicy struct {
	Location    FieldPolicy
	Description FieldPolicy
}

// OccurrenceMerge is the policy applied by UpsertOccurrence: the template
// location always wins, a description edited by a user is kept.
var OccurrenceMerge = MergePolicy{
	Location:    Overwrite,
	Description: PreserveIfSet,
}

// Apply returns existing with the incoming fields merged in.
func (p MergePolicy) Apply(existing, incoming Event) Event {
	out := existing
	out.Location = mergeField(p.Location, existing.Location, incoming.Location)
	out.Description = mergeField(p.Description, existing.Description, incoming.Description)
	return out
}

func mergeField(p FieldPolicy, stored, incoming string) string {
	if p == PreserveIfSet && stored != "" {
		return stored
	}
	return incoming
}
