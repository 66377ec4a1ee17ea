// Package store provides in-memory implementations of the clubs and users
// stores, used by unit tests and the in-process demo mode.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ufcsu/clubportal/clubs"
	"github.com/ufcsu/clubportal/users"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	clubs       map[int64]clubs.Club
	roles       map[int64]clubs.ClubRole
	memberships map[int64]clubs.Membership
	memberRoles map[int64][]int64
	attendance  map[int64]clubs.Attendance
	events      map[int64]clubs.Event
	recurring   map[int64]clubs.RecurringEvent
	users       map[int64]users.User
}

var (
	_ clubs.Store   = (*Memory)(nil)
	_ clubs.TxStore = (*Memory)(nil)
	_ users.Store   = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		now:         func() time.Time { return time.Now().UTC() },
		clubs:       make(map[int64]clubs.Club),
		roles:       make(map[int64]clubs.ClubRole),
		memberships: make(map[int64]clubs.Membership),
		memberRoles: make(map[int64][]int64),
		attendance:  make(map[int64]clubs.Attendance),
		events:      make(map[int64]clubs.Event),
		recurring:   make(map[int64]clubs.RecurringEvent),
		users:       make(map[int64]users.User),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// CLUBS
// =============================================================================

func (m *Memory) CreateClub(_ context.Context, c *clubs.Club) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.clubs {
		if existing.Name == c.Name || (c.Alias != "" && strings.EqualFold(existing.Alias, c.Alias)) {
			return clubs.ErrDuplicate
		}
	}
	c.ID = m.id()
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.clubs[c.ID] = *c
	return nil
}

func (m *Memory) GetClub(_ context.Context, id int64) (clubs.Club, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clubs[id]
	if !ok {
		return clubs.Club{}, clubs.ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListClubs(_ context.Context) ([]clubs.Club, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]clubs.Club, 0, len(m.clubs))
	for _, c := range m.clubs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateClub(_ context.Context, c clubs.Club) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.clubs[c.ID]
	if !ok {
		return clubs.ErrNotFound
	}
	existing.Name = c.Name
	existing.Alias = c.Alias
	existing.Description = c.Description
	existing.UpdatedAt = m.now()
	m.clubs[c.ID] = existing
	return nil
}

func (m *Memory) DeleteClub(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clubs[id]; !ok {
		return clubs.ErrNotFound
	}
	delete(m.clubs, id)
	for rid, r := range m.roles {
		if r.ClubID == id {
			delete(m.roles, rid)
		}
	}
	for mid, mem := range m.memberships {
		if mem.ClubID == id {
			delete(m.memberships, mid)
			delete(m.memberRoles, mid)
		}
	}
	for eid, ev := range m.events {
		if ev.ClubID == id {
			delete(m.events, eid)
		}
	}
	for rid, rec := range m.recurring {
		if rec.ClubID == id {
			delete(m.recurring, rid)
		}
	}
	return nil
}

// =============================================================================
// ROLES & MEMBERSHIPS
// =============================================================================

func (m *Memory) CreateRole(_ context.Context, r *clubs.ClubRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.roles {
		if existing.ClubID != r.ClubID {
			continue
		}
		if existing.Name == r.Name || (r.IsDefault && existing.IsDefault) {
			return clubs.ErrDuplicate
		}
	}
	r.ID = m.id()
	r.CreatedAt = m.now()
	m.roles[r.ID] = *r
	return nil
}

func (m *Memory) ListRoles(_ context.Context, clubID int64) ([]clubs.ClubRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []clubs.ClubRole
	for _, r := range m.roles {
		if r.ClubID == clubID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetRoleByName(_ context.Context, clubID int64, name string) (clubs.ClubRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roles {
		if r.ClubID == clubID && r.Name == name {
			return r, nil
		}
	}
	return clubs.ClubRole{}, clubs.ErrRoleNotFound
}

func (m *Memory) CreateMembership(_ context.Context, mem *clubs.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.memberships {
		if existing.ClubID == mem.ClubID && existing.UserID == mem.UserID {
			return clubs.ErrDuplicate
		}
	}
	mem.ID = m.id()
	mem.CreatedAt = m.now()
	ids := make([]int64, 0, len(mem.Roles))
	for _, r := range mem.Roles {
		ids = append(ids, r.ID)
	}
	m.memberRoles[mem.ID] = ids
	stored := *mem
	stored.Roles = nil
	m.memberships[mem.ID] = stored
	return nil
}

func (m *Memory) GetMembership(_ context.Context, clubID, userID int64) (clubs.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mem := range m.memberships {
		if mem.ClubID == clubID && mem.UserID == userID {
			return m.withRoles(mem), nil
		}
	}
	return clubs.Membership{}, clubs.ErrNotMember
}

func (m *Memory) ListMemberships(_ context.Context, clubID int64) ([]clubs.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []clubs.Membership
	for _, mem := range m.memberships {
		if mem.ClubID == clubID {
			out = append(out, m.withRoles(mem))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) withRoles(mem clubs.Membership) clubs.Membership {
	mem.Roles = nil
	for _, rid := range m.memberRoles[mem.ID] {
		if r, ok := m.roles[rid]; ok {
			mem.Roles = append(mem.Roles, r)
		}
	}
	return mem
}

func (m *Memory) SetMembershipRoles(_ context.Context, membershipID int64, roleIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.memberships[membershipID]; !ok {
		return clubs.ErrNotMember
	}
	m.memberRoles[membershipID] = append([]int64(nil), roleIDs...)
	return nil
}

func (m *Memory) AddMembershipRole(_ context.Context, membershipID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.memberships[membershipID]; !ok {
		return clubs.ErrNotMember
	}
	for _, id := range m.memberRoles[membershipID] {
		if id == roleID {
			return nil
		}
	}
	m.memberRoles[membershipID] = append(m.memberRoles[membershipID], roleID)
	return nil
}

func (m *Memory) UpdateMembershipPoints(_ context.Context, membershipID int64, points decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.memberships[membershipID]
	if !ok {
		return clubs.ErrNotMember
	}
	mem.Points = points
	m.memberships[membershipID] = mem
	return nil
}

func (m *Memory) RecordAttendance(_ context.Context, a *clubs.Attendance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.attendance {
		if existing.MembershipID == a.MembershipID && existing.EventID == a.EventID {
			*a = existing
			return false, nil
		}
	}
	a.ID = m.id()
	a.CreatedAt = m.now()
	m.attendance[a.ID] = *a
	return true, nil
}

func (m *Memory) ListAttendance(_ context.Context, membershipID int64) ([]clubs.Attendance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []clubs.Attendance
	for _, a := range m.attendance {
		if a.MembershipID == membershipID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) CreateEvent(_ context.Context, ev *clubs.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.insertEventLocked(ev)
	return err
}

func (m *Memory) insertEventLocked(ev *clubs.Event) (clubs.Event, error) {
	key := ev.Key()
	for _, existing := range m.events {
		if existing.Key() == key {
			return clubs.Event{}, clubs.ErrDuplicate
		}
	}
	ev.ID = m.id()
	if ev.UUID == "" {
		ev.UUID = uuid.NewString()
	}
	ev.StartAt = ev.StartAt.UTC()
	ev.EndAt = ev.EndAt.UTC()
	ev.CreatedAt = m.now()
	ev.UpdatedAt = ev.CreatedAt
	m.events[ev.ID] = *ev
	return *ev, nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (clubs.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return clubs.Event{}, clubs.ErrNotFound
	}
	return ev, nil
}

func (m *Memory) UpdateEvent(_ context.Context, ev clubs.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.events[ev.ID]
	if !ok {
		return clubs.ErrNotFound
	}
	existing.Name = ev.Name
	existing.StartAt = ev.StartAt.UTC()
	existing.EndAt = ev.EndAt.UTC()
	existing.Location = ev.Location
	existing.Description = ev.Description

	key := existing.Key()
	for id, other := range m.events {
		if id != ev.ID && other.Key() == key {
			return clubs.ErrDuplicate
		}
	}
	existing.UpdatedAt = m.now()
	m.events[ev.ID] = existing
	return nil
}

func (m *Memory) ListEvents(_ context.Context, clubID int64) ([]clubs.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterEvents(func(ev clubs.Event) bool { return ev.ClubID == clubID }), nil
}

func (m *Memory) FutureEvents(_ context.Context, clubID int64, after time.Time) ([]clubs.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.filterEvents(func(ev clubs.Event) bool {
		return ev.ClubID == clubID && ev.StartAt.After(after)
	}), nil
}

func (m *Memory) ListOccurrences(_ context.Context, recurringEventID int64) ([]clubs.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listOccurrencesLocked(recurringEventID), nil
}

func (m *Memory) DeleteEvents(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteEventsLocked(ids)
	return nil
}

func (m *Memory) UpsertOccurrence(_ context.Context, ev clubs.Event) (clubs.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.upsertLocked(ev)
}

func (m *Memory) listOccurrencesLocked(recurringEventID int64) []clubs.Event {
	return m.filterEvents(func(ev clubs.Event) bool {
		return ev.RecurringEventID != nil && *ev.RecurringEventID == recurringEventID
	})
}

func (m *Memory) deleteEventsLocked(ids []int64) {
	for _, id := range ids {
		delete(m.events, id)
		for aid, a := range m.attendance {
			if a.EventID == id {
				delete(m.attendance, aid)
			}
		}
	}
}

func (m *Memory) upsertLocked(ev clubs.Event) (clubs.Event, bool, error) {
	key := ev.Key()
	for id, existing := range m.events {
		if existing.Key() != key {
			continue
		}
		merged := clubs.OccurrenceMerge.Apply(existing, ev)
		merged.UpdatedAt = m.now()
		m.events[id] = merged
		return merged, false, nil
	}
	created, err := m.insertEventLocked(&ev)
	return created, err == nil, err
}

func (m *Memory) filterEvents(keep func(clubs.Event) bool) []clubs.Event {
	var out []clubs.Event
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out
}

// =============================================================================
// RECURRING EVENTS
// =============================================================================

func (m *Memory) CreateRecurringEvent(_ context.Context, r *clubs.RecurringEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	r.CreatedAt = m.now()
	r.UpdatedAt = r.CreatedAt
	m.recurring[r.ID] = *r
	return nil
}

func (m *Memory) GetRecurringEvent(_ context.Context, id int64) (clubs.RecurringEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recurring[id]
	if !ok {
		return clubs.RecurringEvent{}, clubs.ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRecurringEvents(_ context.Context, clubID int64) ([]clubs.RecurringEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []clubs.RecurringEvent
	for _, r := range m.recurring {
		if clubID == 0 || r.ClubID == clubID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateRecurringEvent(_ context.Context, r clubs.RecurringEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.recurring[r.ID]
	if !ok {
		return clubs.ErrNotFound
	}
	r.ClubID = existing.ClubID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.now()
	m.recurring[r.ID] = r
	return nil
}

func (m *Memory) DeleteRecurringEvent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recurring[id]; !ok {
		return clubs.ErrNotFound
	}

	// A detached occurrence must not take the key of an existing one-off.
	oneOff := make(map[clubs.OccurrenceKey]bool)
	for _, ev := range m.events {
		if ev.RecurringEventID == nil {
			oneOff[ev.Key()] = true
		}
	}
	for _, ev := range m.events {
		if ev.RecurringEventID == nil || *ev.RecurringEventID != id {
			continue
		}
		detached := ev
		detached.RecurringEventID = nil
		if oneOff[detached.Key()] {
			return clubs.ErrDuplicate
		}
	}

	delete(m.recurring, id)
	for eid, ev := range m.events {
		if ev.RecurringEventID != nil && *ev.RecurringEventID == id {
			ev.RecurringEventID = nil
			m.events[eid] = ev
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(clubs.OccurrenceStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[int64]clubs.Event, len(m.events))
	for k, v := range m.events {
		snapshot[k] = v
	}
	attendance := make(map[int64]clubs.Attendance, len(m.attendance))
	for k, v := range m.attendance {
		attendance[k] = v
	}
	nextID := m.nextID

	if err := fn(&txView{parent: m}); err != nil {
		m.events = snapshot
		m.attendance = attendance
		m.nextID = nextID
		return err
	}
	return nil
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Memory
}

func (tv *txView) ListOccurrences(_ context.Context, recurringEventID int64) ([]clubs.Event, error) {
	return tv.parent.listOccurrencesLocked(recurringEventID), nil
}

func (tv *txView) DeleteEvents(_ context.Context, ids []int64) error {
	tv.parent.deleteEventsLocked(ids)
	return nil
}

func (tv *txView) UpsertOccurrence(_ context.Context, ev clubs.Event) (clubs.Event, bool, error) {
	return tv.parent.upsertLocked(ev)
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return users.ErrEmailTaken
		}
	}
	u.ID = m.id()
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (m *Memory) UpdateUser(_ context.Context, u users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return users.ErrNotFound
	}
	u.Email = existing.Email
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = m.now()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]users.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
