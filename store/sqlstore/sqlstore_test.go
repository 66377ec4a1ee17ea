package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufcsu/clubportal/clubs"
	"github.com/ufcsu/clubportal/logger"
	"github.com/ufcsu/clubportal/store/sqlstore"
	"github.com/ufcsu/clubportal/users"
)

// =============================================================================
// HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.New(":memory:", logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func jan(day int) clubs.Date { return clubs.NewDate(2024, time.January, day) }

func createClub(t *testing.T, s *sqlstore.Store, name string) clubs.Club {
	t.Helper()
	c := clubs.Club{Name: name, Alias: name[:3]}
	require.NoError(t, s.CreateClub(context.Background(), &c))
	return c
}

func createUser(t *testing.T, s *sqlstore.Store, email string) users.User {
	t.Helper()
	u := users.User{Email: email, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), &u))
	return u
}

func createTemplate(t *testing.T, s *sqlstore.Store, clubID int64) clubs.RecurringEvent {
	t.Helper()
	rec := clubs.RecurringEvent{
		ClubID:         clubID,
		Name:           "Practice",
		StartDate:      jan(1),
		EndDate:        jan(29),
		Day:            clubs.Monday,
		EventStartTime: clubs.NewClock(18, 0),
		EventEndTime:   clubs.NewClock(20, 0),
		Location:       "Gym",
		Description:    "Weekly practice",
	}
	require.NoError(t, s.CreateRecurringEvent(context.Background(), &rec))
	return rec
}

// =============================================================================
// CLUBS, ROLES, MEMBERSHIPS
// =============================================================================

func TestClubs_CRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	chess := createClub(t, s, "Chess Club")
	assert.NotZero(t, chess.ID)
	assert.NotEmpty(t, chess.UUID)

	got, err := s.GetClub(ctx, chess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chess Club", got.Name)
	assert.Equal(t, "Che", got.Alias)

	got.Description = "Knights and bishops"
	require.NoError(t, s.UpdateClub(ctx, got))
	got, err = s.GetClub(ctx, chess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Knights and bishops", got.Description)

	createClub(t, s, "Archery")
	list, err := s.ListClubs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Archery", list[0].Name)

	require.NoError(t, s.DeleteClub(ctx, chess.ID))
	_, err = s.GetClub(ctx, chess.ID)
	assert.ErrorIs(t, err, clubs.ErrNotFound)
	assert.ErrorIs(t, s.DeleteClub(ctx, chess.ID), clubs.ErrNotFound)
}

func TestClubs_Duplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	createClub(t, s, "Chess Club")

	dup := clubs.Club{Name: "Chess Club"}
	assert.ErrorIs(t, s.CreateClub(ctx, &dup), clubs.ErrDuplicate)

	// Alias uniqueness ignores case.
	alias := clubs.Club{Name: "Checkers", Alias: "CHE"}
	assert.ErrorIs(t, s.CreateClub(ctx, &alias), clubs.ErrDuplicate)
}

func TestRoles_DefaultIsUnique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")

	member := clubs.ClubRole{ClubID: club.ID, Name: "Member", IsDefault: true}
	require.NoError(t, s.CreateRole(ctx, &member))

	second := clubs.ClubRole{ClubID: club.ID, Name: "Guest", IsDefault: true}
	assert.ErrorIs(t, s.CreateRole(ctx, &second), clubs.ErrDuplicate)

	same := clubs.ClubRole{ClubID: club.ID, Name: "Member"}
	assert.ErrorIs(t, s.CreateRole(ctx, &same), clubs.ErrDuplicate)

	got, err := s.GetRoleByName(ctx, club.ID, "Member")
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	_, err = s.GetRoleByName(ctx, club.ID, "Captain")
	assert.ErrorIs(t, err, clubs.ErrRoleNotFound)
}

func TestMemberships_RolesAndPoints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	user := createUser(t, s, "ada@example.org")

	member := clubs.ClubRole{ClubID: club.ID, Name: "Member", IsDefault: true}
	captain := clubs.ClubRole{ClubID: club.ID, Name: "Captain"}
	require.NoError(t, s.CreateRole(ctx, &member))
	require.NoError(t, s.CreateRole(ctx, &captain))

	m := clubs.Membership{ClubID: club.ID, UserID: user.ID, Roles: []clubs.ClubRole{member}}
	require.NoError(t, s.CreateMembership(ctx, &m))

	dup := clubs.Membership{ClubID: club.ID, UserID: user.ID}
	assert.ErrorIs(t, s.CreateMembership(ctx, &dup), clubs.ErrDuplicate)

	require.NoError(t, s.AddMembershipRole(ctx, m.ID, captain.ID))
	require.NoError(t, s.AddMembershipRole(ctx, m.ID, captain.ID))

	got, err := s.GetMembership(ctx, club.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRole("Member"))
	assert.True(t, got.HasRole("Captain"))
	assert.Len(t, got.Roles, 2)

	require.NoError(t, s.SetMembershipRoles(ctx, m.ID, []int64{captain.ID}))
	require.NoError(t, s.UpdateMembershipPoints(ctx, m.ID, decimal.RequireFromString("12.5")))

	list, err := s.ListMemberships(ctx, club.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].HasRole("Member"))
	assert.True(t, list[0].HasRole("Captain"))
	assert.True(t, list[0].Points.Equal(decimal.RequireFromString("12.5")))

	_, err = s.GetMembership(ctx, club.ID, 999)
	assert.ErrorIs(t, err, clubs.ErrNotMember)
	assert.ErrorIs(t, s.AddMembershipRole(ctx, 999, captain.ID), clubs.ErrNotMember)
	assert.ErrorIs(t, s.UpdateMembershipPoints(ctx, 999, decimal.Zero), clubs.ErrNotMember)
}

func TestAttendance_GetOrCreate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	user := createUser(t, s, "ada@example.org")

	m := clubs.Membership{ClubID: club.ID, UserID: user.ID}
	require.NoError(t, s.CreateMembership(ctx, &m))

	ev := clubs.Event{
		ClubID:  club.ID,
		Name:    "Open night",
		StartAt: time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateEvent(ctx, &ev))

	first := clubs.Attendance{MembershipID: m.ID, EventID: ev.ID}
	created, err := s.RecordAttendance(ctx, &first)
	require.NoError(t, err)
	assert.True(t, created)

	again := clubs.Attendance{MembershipID: m.ID, EventID: ev.ID}
	created, err = s.RecordAttendance(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	list, err := s.ListAttendance(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Deleting the event removes its attendance.
	require.NoError(t, s.DeleteEvents(ctx, []int64{ev.ID}))
	list, err = s.ListAttendance(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEvents_KeyUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	start := time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC)
	oneOff := clubs.Event{ClubID: club.ID, Name: "Practice", StartAt: start, EndAt: start.Add(2 * time.Hour)}
	require.NoError(t, s.CreateEvent(ctx, &oneOff))

	// Same fields, different template: a distinct key.
	generated := oneOff
	generated.ID = 0
	generated.UUID = ""
	generated.RecurringEventID = &rec.ID
	require.NoError(t, s.CreateEvent(ctx, &generated))

	// NULL template ids still collide with each other.
	dup := oneOff
	dup.ID = 0
	dup.UUID = ""
	assert.ErrorIs(t, s.CreateEvent(ctx, &dup), clubs.ErrDuplicate)

	// Moving an event onto another's key is rejected.
	other := clubs.Event{ClubID: club.ID, Name: "Practice", StartAt: start.Add(time.Hour), EndAt: start.Add(3 * time.Hour)}
	require.NoError(t, s.CreateEvent(ctx, &other))
	other.StartAt = start
	other.EndAt = start.Add(2 * time.Hour)
	assert.ErrorIs(t, s.UpdateEvent(ctx, other), clubs.ErrDuplicate)
}

func TestEvents_UpsertMerges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	start := time.Date(2024, 1, 8, 23, 0, 0, 0, time.UTC)
	ev := clubs.Event{
		ClubID:           club.ID,
		Name:             "Practice",
		StartAt:          start,
		EndAt:            start.Add(2 * time.Hour),
		Location:         "Gym",
		Description:      "Weekly practice",
		RecurringEventID: &rec.ID,
	}

	stored, created, err := s.UpsertOccurrence(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)

	stored.Description = "Bring boards"
	require.NoError(t, s.UpdateEvent(ctx, stored))

	ev.Location = "Library"
	ev.Description = "Template text"
	merged, created, err := s.UpsertOccurrence(ctx, ev)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, merged.ID)
	assert.Equal(t, "Library", merged.Location)
	assert.Equal(t, "Bring boards", merged.Description)

	got, err := s.GetEvent(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Library", got.Location)
	assert.Equal(t, "Bring boards", got.Description)
	require.NotNil(t, got.RecurringEventID)
	assert.Equal(t, rec.ID, *got.RecurringEventID)
	assert.True(t, got.StartAt.Equal(start))
}

func TestEvents_FutureEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	other := createClub(t, s, "Archery")

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"past", "later", "sooner"} {
		start := now.Add(time.Duration([]int{-24, 48, 24}[i]) * time.Hour)
		ev := clubs.Event{ClubID: club.ID, Name: name, StartAt: start, EndAt: start.Add(time.Hour)}
		require.NoError(t, s.CreateEvent(ctx, &ev))
	}
	foreign := clubs.Event{ClubID: other.ID, Name: "foreign", StartAt: now.Add(time.Hour), EndAt: now.Add(2 * time.Hour)}
	require.NoError(t, s.CreateEvent(ctx, &foreign))

	events, err := s.FutureEvents(ctx, club.ID, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sooner", events[0].Name)
	assert.Equal(t, "later", events[1].Name)
}

func TestRecurringEvents_RoundTripAndDetach(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	got, err := s.GetRecurringEvent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, jan(1), got.StartDate)
	assert.Equal(t, jan(29), got.EndDate)
	assert.Equal(t, clubs.Monday, got.Day)
	assert.Equal(t, clubs.NewClock(18, 0), got.EventStartTime)

	got.Day = clubs.Wednesday
	got.EndDate = jan(31)
	require.NoError(t, s.UpdateRecurringEvent(ctx, got))
	got, err = s.GetRecurringEvent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, clubs.Wednesday, got.Day)
	assert.Equal(t, jan(31), got.EndDate)

	all, err := s.ListRecurringEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	start := time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC)
	ev := clubs.Event{ClubID: club.ID, Name: "Practice", StartAt: start, EndAt: start.Add(time.Hour), RecurringEventID: &rec.ID}
	require.NoError(t, s.CreateEvent(ctx, &ev))

	require.NoError(t, s.DeleteRecurringEvent(ctx, rec.ID))
	_, err = s.GetRecurringEvent(ctx, rec.ID)
	assert.ErrorIs(t, err, clubs.ErrNotFound)

	kept, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.RecurringEventID)
}

func TestRecurringEvents_DetachCollidingWithOneOff(t *testing.T) {
	// GIVEN: a generated occurrence and a one-off event with the same name and times
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	start := time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC)
	generated := clubs.Event{ClubID: club.ID, Name: "Practice", StartAt: start, EndAt: start.Add(time.Hour), RecurringEventID: &rec.ID}
	require.NoError(t, s.CreateEvent(ctx, &generated))
	oneOff := clubs.Event{ClubID: club.ID, Name: "Practice", StartAt: start, EndAt: start.Add(time.Hour)}
	require.NoError(t, s.CreateEvent(ctx, &oneOff))

	// WHEN: the template is deleted
	err := s.DeleteRecurringEvent(ctx, rec.ID)

	// THEN: the delete is rejected and nothing changed
	assert.ErrorIs(t, err, clubs.ErrDuplicate)
	_, err = s.GetRecurringEvent(ctx, rec.ID)
	require.NoError(t, err)
	kept, err := s.GetEvent(ctx, generated.ID)
	require.NoError(t, err)
	require.NotNil(t, kept.RecurringEventID)
	assert.Equal(t, rec.ID, *kept.RecurringEventID)
}

// =============================================================================
// SYNCER AGAINST SQL
// =============================================================================

func TestSyncer_SQL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	syncer := clubs.NewSyncer(s, time.UTC, logger.Discard())

	res, err := syncer.Sync(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, clubs.SyncResult{Created: 5}, res)

	// Idempotent
	res, err = syncer.Sync(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, clubs.SyncResult{Updated: 5}, res)

	// Shrinking the range removes the out-of-range occurrences.
	rec.EndDate = jan(15)
	res, err = syncer.Sync(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	events, err := s.ListOccurrences(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, clubs.Monday, clubs.WeekdayOf(ev.StartAt))
	}
}

// failingStore makes the third upsert inside a transaction fail.
type failingStore struct {
	*sqlstore.Store
}

func (f failingStore) WithTx(ctx context.Context, fn func(clubs.OccurrenceStore) error) error {
	return f.Store.WithTx(ctx, func(tx clubs.OccurrenceStore) error {
		return fn(&failingTx{OccurrenceStore: tx})
	})
}

type failingTx struct {
	clubs.OccurrenceStore
	calls int
}

var errBoom = errors.New("boom")

func (f *failingTx) UpsertOccurrence(ctx context.Context, ev clubs.Event) (clubs.Event, bool, error) {
	f.calls++
	if f.calls == 3 {
		return clubs.Event{}, false, errBoom
	}
	return f.OccurrenceStore.UpsertOccurrence(ctx, ev)
}

func TestSyncer_SQLRollback(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	club := createClub(t, s, "Chess Club")
	rec := createTemplate(t, s, club.ID)

	syncer := clubs.NewSyncer(failingStore{s}, time.UTC, logger.Discard())
	_, err := syncer.Sync(ctx, rec)
	assert.ErrorIs(t, err, errBoom)

	events, err := s.ListOccurrences(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// =============================================================================
// USERS
// =============================================================================

func TestUsers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := createUser(t, s, "ada@example.org")

	dup := users.User{Email: "ADA@example.org", PasswordHash: "x"}
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), users.ErrEmailTaken)

	got, err := s.GetUserByEmail(ctx, "Ada@Example.org")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got.FirstName = "Ada"
	require.NoError(t, s.UpdateUser(ctx, got))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)

	_, err = s.GetUser(ctx, 999)
	assert.ErrorIs(t, err, users.ErrNotFound)
	assert.ErrorIs(t, s.UpdateUser(ctx, users.User{ID: 999}), users.ErrNotFound)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
