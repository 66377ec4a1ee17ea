/*
service.go - Club business operations

PURPOSE:
  ClubService is what the HTTP layer calls. It validates input, talks to the
  Store and wires the side effects the rest of the system expects:
    - creating or editing a recurring event reconciles its occurrences
    - changing a club's events drops its cached calendar
    - inviting members sends one email per address

COLLABORATORS:
  Store            persistence (sqlstore or clubs/store.Memory)
  Syncer           recurring event reconciliation
  CalendarRenderer iCalendar documents (calendar.Exporter)
  mail.Sender      invite delivery
  cache.Cache      rendered club calendars

SEE ALSO:
  - sync.go: Reconciliation
  - api/handlers.go: HTTP mapping of these operations
*/
package clubs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ufcsu/clubportal/cache"
	"github.com/ufcsu/clubportal/mail"
	"github.com/ufcsu/clubportal/users"
)

// DefaultRoleName is the role created with every club.
const DefaultRoleName = "Member"

// CalendarRenderer turns club records into iCalendar documents.
type CalendarRenderer interface {
	EventCalendar(club Club, ev Event, rec *RecurringEvent) ([]byte, error)
	ClubCalendar(club Club, events []Event) ([]byte, error)
}

// CalendarExport is a rendered calendar with the records it was built from.
// Event is nil for a whole-club export.
type CalendarExport struct {
	Club  Club
	Event *Event
	Data  []byte
}

type ServiceConfig struct {
	// Location interprets template dates and clocks. Defaults to UTC.
	Location *time.Location
	Calendar CalendarRenderer
	Mailer   mail.Sender
	Cache    cache.Cache
	CacheTTL time.Duration
	// Users, when set, is used to check that members exist.
	Users users.Store
	// BaseURL prefixes join and registration links.
	BaseURL string
	Logger  logrus.FieldLogger
	// OnSync is called after each successful reconciliation.
	OnSync func(rec RecurringEvent, result SyncResult)
	Now    func() time.Time
}

type Service struct {
	store  Store
	syncer *Syncer
	cfg    ServiceConfig
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{store: store, cfg: cfg, log: cfg.Logger, now: now}
	s.syncer = NewSyncer(store, cfg.Location, cfg.Logger)
	s.syncer.OnSync = func(rec RecurringEvent, result SyncResult) {
		s.invalidateCalendar(context.Background(), rec.ClubID)
		if cfg.OnSync != nil {
			cfg.OnSync(rec, result)
		}
	}
	return s
}

// Syncer exposes the reconciler used by the service (for the scheduler).
func (s *Service) Syncer() *Syncer { return s.syncer }

// =============================================================================
// CLUBS
// =============================================================================

type ClubParams struct {
	Name        string
	Alias       string
	Description string
}

// CreateClub creates the club together with its default role.
func (s *Service) CreateClub(ctx context.Context, p ClubParams) (Club, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Club{}, &ValidationError{Field: "name", Message: "name is required"}
	}
	c := Club{Name: strings.TrimSpace(p.Name), Alias: p.Alias, Description: p.Description}
	if err := s.store.CreateClub(ctx, &c); err != nil {
		return Club{}, err
	}
	role := ClubRole{ClubID: c.ID, Name: DefaultRoleName, IsDefault: true}
	if err := s.store.CreateRole(ctx, &role); err != nil {
		return Club{}, fmt.Errorf("create default role: %w", err)
	}
	return c, nil
}

func (s *Service) GetClub(ctx context.Context, id int64) (Club, error) {
	return s.store.GetClub(ctx, id)
}

func (s *Service) ListClubs(ctx context.Context) ([]Club, error) {
	return s.store.ListClubs(ctx)
}

func (s *Service) UpdateClub(ctx context.Context, id int64, p ClubParams) (Club, error) {
	c, err := s.store.GetClub(ctx, id)
	if err != nil {
		return Club{}, err
	}
	if p.Name != "" {
		c.Name = strings.TrimSpace(p.Name)
	}
	c.Alias = p.Alias
	c.Description = p.Description
	if err := s.store.UpdateClub(ctx, c); err != nil {
		return Club{}, err
	}
	s.invalidateCalendar(ctx, id)
	return s.store.GetClub(ctx, id)
}

func (s *Service) DeleteClub(ctx context.Context, id int64) error {
	if err := s.store.DeleteClub(ctx, id); err != nil {
		return err
	}
	s.invalidateCalendar(ctx, id)
	return nil
}

// =============================================================================
// ROLES & MEMBERS
// =============================================================================

// CreateRole adds a role. A club has at most one default role.
func (s *Service) CreateRole(ctx context.Context, clubID int64, name string, isDefault bool) (ClubRole, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return ClubRole{}, err
	}
	if strings.TrimSpace(name) == "" {
		return ClubRole{}, &ValidationError{Field: "name", Message: "role name is required"}
	}
	r := ClubRole{ClubID: clubID, Name: strings.TrimSpace(name), IsDefault: isDefault}
	if err := s.store.CreateRole(ctx, &r); err != nil {
		return ClubRole{}, err
	}
	return r, nil
}

func (s *Service) ListRoles(ctx context.Context, clubID int64) ([]ClubRole, error) {
	return s.store.ListRoles(ctx, clubID)
}

// AddMember creates a membership for an existing user. Without role names the
// member receives the club's default role.
func (s *Service) AddMember(ctx context.Context, clubID, userID int64, roleNames ...string) (Membership, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return Membership{}, err
	}
	if err := s.checkUser(ctx, userID); err != nil {
		return Membership{}, err
	}

	roles, err := s.resolveRoles(ctx, clubID, roleNames)
	if err != nil {
		return Membership{}, err
	}
	m := Membership{ClubID: clubID, UserID: userID, Roles: roles, Points: decimal.Zero}
	if err := s.store.CreateMembership(ctx, &m); err != nil {
		return Membership{}, err
	}
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, clubID int64) ([]Membership, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return nil, err
	}
	return s.store.ListMemberships(ctx, clubID)
}

// SetMemberRole replaces the member's roles with the named role.
func (s *Service) SetMemberRole(ctx context.Context, clubID, userID int64, role string) (Membership, error) {
	m, r, err := s.memberAndRole(ctx, clubID, userID, role)
	if err != nil {
		return Membership{}, err
	}
	if err := s.store.SetMembershipRoles(ctx, m.ID, []int64{r.ID}); err != nil {
		return Membership{}, err
	}
	return s.store.GetMembership(ctx, clubID, userID)
}

// AddMemberRole adds the named role to the member's roles.
func (s *Service) AddMemberRole(ctx context.Context, clubID, userID int64, role string) (Membership, error) {
	m, r, err := s.memberAndRole(ctx, clubID, userID, role)
	if err != nil {
		return Membership{}, err
	}
	if err := s.store.AddMembershipRole(ctx, m.ID, r.ID); err != nil {
		return Membership{}, err
	}
	return s.store.GetMembership(ctx, clubID, userID)
}

func (s *Service) memberAndRole(ctx context.Context, clubID, userID int64, role string) (Membership, ClubRole, error) {
	m, err := s.store.GetMembership(ctx, clubID, userID)
	if err != nil {
		return Membership{}, ClubRole{}, err
	}
	r, err := s.store.GetRoleByName(ctx, clubID, role)
	if err != nil {
		return Membership{}, ClubRole{}, fmt.Errorf("%w: %q", err, role)
	}
	return m, r, nil
}

func (s *Service) resolveRoles(ctx context.Context, clubID int64, names []string) ([]ClubRole, error) {
	if len(names) == 0 {
		all, err := s.store.ListRoles(ctx, clubID)
		if err != nil {
			return nil, err
		}
		var defaults []ClubRole
		for _, r := range all {
			if r.IsDefault {
				defaults = append(defaults, r)
			}
		}
		return defaults, nil
	}

	roles := make([]ClubRole, 0, len(names))
	for _, name := range names {
		r, err := s.store.GetRoleByName(ctx, clubID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (s *Service) checkUser(ctx context.Context, userID int64) error {
	if s.cfg.Users == nil {
		return nil
	}
	_, err := s.cfg.Users.GetUser(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return err
}

// =============================================================================
// POINTS
// =============================================================================

// IncreaseMemberPoints adds a positive amount.
func (s *Service) IncreaseMemberPoints(ctx context.Context, clubID, userID int64, amount decimal.Decimal) (Membership, error) {
	if err := checkAmount(amount); err != nil {
		return Membership{}, err
	}
	return s.adjustPoints(ctx, clubID, userID, amount)
}

// DecreaseMemberPoints subtracts a positive amount. It fails with
// ErrNotEnoughPoints rather than going negative.
func (s *Service) DecreaseMemberPoints(ctx context.Context, clubID, userID int64, amount decimal.Decimal) (Membership, error) {
	if err := checkAmount(amount); err != nil {
		return Membership{}, err
	}
	return s.adjustPoints(ctx, clubID, userID, amount.Neg())
}

func checkAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	return nil
}

func (s *Service) adjustPoints(ctx context.Context, clubID, userID int64, delta decimal.Decimal) (Membership, error) {
	m, err := s.store.GetMembership(ctx, clubID, userID)
	if err != nil {
		return Membership{}, err
	}
	points := m.Points.Add(delta)
	if points.IsNegative() {
		return Membership{}, ErrNotEnoughPoints
	}
	if err := s.store.UpdateMembershipPoints(ctx, m.ID, points); err != nil {
		return Membership{}, err
	}
	m.Points = points
	return m, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// RecordAttendance records that the user attended the event, joining the club
// first when needed. Recording twice returns the existing record.
func (s *Service) RecordAttendance(ctx context.Context, clubID, userID, eventID int64) (Attendance, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return Attendance{}, err
	}
	if ev.ClubID != clubID {
		return Attendance{}, &MismatchError{Kind: "event", Name: ev.Name, ClubID: clubID}
	}

	m, err := s.store.GetMembership(ctx, clubID, userID)
	if errors.Is(err, ErrNotMember) {
		m, err = s.AddMember(ctx, clubID, userID)
	}
	if err != nil {
		return Attendance{}, err
	}

	a := Attendance{MembershipID: m.ID, EventID: ev.ID}
	if _, err := s.store.RecordAttendance(ctx, &a); err != nil {
		return Attendance{}, err
	}
	return a, nil
}

func (s *Service) MemberAttendance(ctx context.Context, clubID, userID int64) ([]Attendance, error) {
	m, err := s.store.GetMembership(ctx, clubID, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAttendance(ctx, m.ID)
}

// =============================================================================
// EVENTS
// =============================================================================

type EventParams struct {
	Name        string
	StartAt     time.Time
	EndAt       time.Time
	Location    string
	Description string
}

func (s *Service) CreateEvent(ctx context.Context, clubID int64, p EventParams) (Event, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return Event{}, &ValidationError{Field: "name", Message: "name is required"}
	}
	if !p.StartAt.IsZero() && !p.EndAt.IsZero() && !p.StartAt.Before(p.EndAt) {
		return Event{}, ErrInvalidEventTime
	}

	ev := Event{
		ClubID:      clubID,
		Name:        p.Name,
		StartAt:     p.StartAt.UTC(),
		EndAt:       p.EndAt.UTC(),
		Location:    p.Location,
		Description: p.Description,
	}
	if err := s.store.CreateEvent(ctx, &ev); err != nil {
		return Event{}, err
	}
	s.invalidateCalendar(ctx, clubID)
	return ev, nil
}

// UpdateEvent applies a manual edit. Zero times keep the stored ones. Edits
// to a generated occurrence survive later reconciliation except for the
// location, which follows the template.
func (s *Service) UpdateEvent(ctx context.Context, clubID, eventID int64, p EventParams) (Event, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if ev.ClubID != clubID {
		return Event{}, &MismatchError{Kind: "event", Name: ev.Name, ClubID: clubID}
	}
	if p.Name != "" {
		ev.Name = p.Name
	}
	if !p.StartAt.IsZero() {
		ev.StartAt = p.StartAt.UTC()
	}
	if !p.EndAt.IsZero() {
		ev.EndAt = p.EndAt.UTC()
	}
	if !ev.StartAt.Before(ev.EndAt) {
		return Event{}, ErrInvalidEventTime
	}
	ev.Location = p.Location
	ev.Description = p.Description

	if err := s.store.UpdateEvent(ctx, ev); err != nil {
		return Event{}, err
	}
	s.invalidateCalendar(ctx, clubID)
	return s.store.GetEvent(ctx, eventID)
}

func (s *Service) ListEvents(ctx context.Context, clubID int64) ([]Event, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, clubID)
}

// =============================================================================
// RECURRING EVENTS
// =============================================================================

type RecurringEventParams struct {
	Name           string
	StartDate      Date
	EndDate        Date
	Day            Weekday
	EventStartTime Clock
	EventEndTime   Clock
	Location       string
	Description    string
}

func (p RecurringEventParams) apply(r *RecurringEvent) {
	r.Name = p.Name
	r.StartDate = p.StartDate
	r.EndDate = p.EndDate
	r.Day = p.Day
	r.EventStartTime = p.EventStartTime
	r.EventEndTime = p.EventEndTime
	r.Location = p.Location
	r.Description = p.Description
}

// CreateRecurringEvent stores the template and generates its occurrences.
func (s *Service) CreateRecurringEvent(ctx context.Context, clubID int64, p RecurringEventParams) (RecurringEvent, SyncResult, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	rec := RecurringEvent{ClubID: clubID}
	p.apply(&rec)
	if err := rec.Validate(); err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	if err := s.store.CreateRecurringEvent(ctx, &rec); err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	result, err := s.syncer.Sync(ctx, rec)
	return rec, result, err
}

// UpdateRecurringEvent replaces the template fields and reconciles. Untouched
// occurrences of the old name or times are replaced; edited ones are kept.
func (s *Service) UpdateRecurringEvent(ctx context.Context, clubID, id int64, p RecurringEventParams) (RecurringEvent, SyncResult, error) {
	rec, err := s.recurringEventOf(ctx, clubID, id)
	if err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	prev := rec
	p.apply(&rec)
	if err := rec.Validate(); err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	if err := s.store.UpdateRecurringEvent(ctx, rec); err != nil {
		return RecurringEvent{}, SyncResult{}, err
	}
	result, err := s.syncer.Resync(ctx, prev, rec)
	return rec, result, err
}

// DeleteRecurringEvent removes the template. Its occurrences stay as one-off
// events. When one of them would duplicate an existing one-off event the
// delete fails with ErrDuplicate and nothing changes.
func (s *Service) DeleteRecurringEvent(ctx context.Context, clubID, id int64) error {
	if _, err := s.recurringEventOf(ctx, clubID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRecurringEvent(ctx, id); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("delete recurring event %d: an occurrence matches a one-off event with the same name and times: %w", id, err)
		}
		return err
	}
	s.invalidateCalendar(ctx, clubID)
	return nil
}

func (s *Service) ListRecurringEvents(ctx context.Context, clubID int64) ([]RecurringEvent, error) {
	if _, err := s.store.GetClub(ctx, clubID); err != nil {
		return nil, err
	}
	return s.store.ListRecurringEvents(ctx, clubID)
}

// SyncRecurringEvents reconciles the given templates, or every template when
// ids is empty.
func (s *Service) SyncRecurringEvents(ctx context.Context, ids []int64) ([]SyncReport, error) {
	var recs []RecurringEvent
	if len(ids) == 0 {
		all, err := s.store.ListRecurringEvents(ctx, 0)
		if err != nil {
			return nil, err
		}
		recs = all
	} else {
		for _, id := range ids {
			rec, err := s.store.GetRecurringEvent(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("recurring event %d: %w", id, err)
			}
			recs = append(recs, rec)
		}
	}
	return s.syncer.SyncAll(ctx, recs)
}

func (s *Service) recurringEventOf(ctx context.Context, clubID, id int64) (RecurringEvent, error) {
	rec, err := s.store.GetRecurringEvent(ctx, id)
	if err != nil {
		return RecurringEvent{}, err
	}
	if rec.ClubID != clubID {
		return RecurringEvent{}, &MismatchError{Kind: "recurring event", Name: rec.Name, ClubID: clubID}
	}
	return rec, nil
}

// =============================================================================
// INVITES & LINKS
// =============================================================================

// JoinLink is where a new user creates an account and joins the club.
func (s *Service) JoinLink(club Club) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/clubs/" + strconv.FormatInt(club.ID, 10) + "/join"
}

// RegistrationURL links to the sign up page with the club preselected.
func (s *Service) RegistrationURL(club Club) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/register?" + url.Values{"club": {club.Name}}.Encode()
}

// InviteMembers sends one invite per address and returns how many were sent.
// It stops at the first delivery failure.
func (s *Service) InviteMembers(ctx context.Context, clubID int64, emails []string) (int, error) {
	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return 0, err
	}
	if s.cfg.Mailer == nil {
		return 0, errors.New("invite members: no mail sender configured")
	}

	link := s.JoinLink(club)
	sent := 0
	for _, addr := range emails {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		msg := mail.Message{
			To:      []string{addr},
			Subject: fmt.Sprintf("You're invited to join %s", club.Name),
			Body:    fmt.Sprintf("You have been invited to join %s.\n\nCreate your account here: %s\n", club.Name, link),
		}
		if err := s.cfg.Mailer.Send(ctx, msg); err != nil {
			return sent, fmt.Errorf("invite %s: %w", addr, err)
		}
		sent++
	}
	s.log.WithFields(logrus.Fields{"club_id": clubID, "sent": sent}).Info("club invites sent")
	return sent, nil
}

// =============================================================================
// CALENDAR
// =============================================================================

// EventCalendar renders one event, with its weekly rule when it was generated
// from a template. An event of another club is ErrClubMismatch.
func (s *Service) EventCalendar(ctx context.Context, clubID, eventID int64) (CalendarExport, error) {
	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return CalendarExport{}, err
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return CalendarExport{}, err
	}
	if ev.ClubID != club.ID {
		return CalendarExport{}, &MismatchError{Kind: "event", Name: ev.Name, ClubID: club.ID}
	}

	var rec *RecurringEvent
	if ev.RecurringEventID != nil {
		r, err := s.store.GetRecurringEvent(ctx, *ev.RecurringEventID)
		if err != nil {
			return CalendarExport{}, err
		}
		rec = &r
	}

	data, err := s.cfg.Calendar.EventCalendar(club, ev, rec)
	if err != nil {
		return CalendarExport{}, err
	}
	return CalendarExport{Club: club, Event: &ev, Data: data}, nil
}

// ClubCalendar renders the club's future events. The result is cached until
// the club's events change, the TTL passes or the first listed event starts.
func (s *Service) ClubCalendar(ctx context.Context, clubID int64) (CalendarExport, error) {
	club, err := s.store.GetClub(ctx, clubID)
	if err != nil {
		return CalendarExport{}, err
	}

	now := s.now()
	key := calendarKey(clubID)
	if data, ok := s.cachedCalendar(ctx, key, now); ok {
		return CalendarExport{Club: club, Data: data}, nil
	}

	events, err := s.store.FutureEvents(ctx, clubID, now)
	if err != nil {
		return CalendarExport{}, err
	}
	data, err := s.cfg.Calendar.ClubCalendar(club, events)
	if err != nil {
		return CalendarExport{}, err
	}

	// The payload goes stale once its earliest event starts.
	entry := calendarEntry{Data: data}
	ttl := s.cfg.CacheTTL
	if len(events) > 0 {
		entry.ValidUntil = events[0].StartAt
		if until := entry.ValidUntil.Sub(now); until < ttl {
			ttl = until
		}
	}
	if s.cfg.Cache != nil && ttl > 0 {
		if raw, err := json.Marshal(entry); err != nil {
			s.log.WithError(err).Warn("calendar cache encode failed")
		} else if err := s.cfg.Cache.Set(ctx, key, raw, ttl); err != nil {
			s.log.WithError(err).Warn("calendar cache write failed")
		}
	}
	return CalendarExport{Club: club, Data: data}, nil
}

// calendarEntry is a cached club calendar. ValidUntil is the start of its
// earliest event; zero means the calendar lists no events.
type calendarEntry struct {
	ValidUntil time.Time `json:"valid_until"`
	Data       []byte    `json:"data"`
}

func (s *Service) cachedCalendar(ctx context.Context, key string, now time.Time) ([]byte, bool) {
	if s.cfg.Cache == nil {
		return nil, false
	}
	raw, ok, err := s.cfg.Cache.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).Warn("calendar cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry calendarEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if !entry.ValidUntil.IsZero() && !now.Before(entry.ValidUntil) {
		return nil, false
	}
	return entry.Data, true
}

func (s *Service) invalidateCalendar(ctx context.Context, clubID int64) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Delete(ctx, calendarKey(clubID)); err != nil {
		s.log.WithError(err).WithField("club_id", clubID).Warn("calendar cache invalidation failed")
	}
}

func calendarKey(clubID int64) string {
	return "calendar:club:" + strconv.FormatInt(clubID, 10)
}
