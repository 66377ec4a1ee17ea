package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ufcsu/clubportal/clubs"
)

// =============================================================================
// CLUBS
// =============================================================================

const clubColumns = "id, uuid, name, alias, description, created_at, updated_at"

func (c *conn) CreateClub(ctx context.Context, club *clubs.Club) error {
	if club.UUID == "" {
		club.UUID = uuid.NewString()
	}
	club.CreatedAt = c.now()
	club.UpdatedAt = club.CreatedAt

	id, err := c.insert(ctx, `
		INSERT INTO clubs (uuid, name, alias, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		club.UUID, club.Name, club.Alias, club.Description,
		formatTime(club.CreatedAt), formatTime(club.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return clubs.ErrDuplicate
		}
		return fmt.Errorf("failed to create club: %w", err)
	}
	club.ID = id
	return nil
}

func (c *conn) GetClub(ctx context.Context, id int64) (clubs.Club, error) {
	row := c.queryRow(ctx, "SELECT "+clubColumns+" FROM clubs WHERE id = ?", id)
	club, err := scanClub(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.Club{}, clubs.ErrNotFound
	}
	return club, err
}

func (c *conn) ListClubs(ctx context.Context) ([]clubs.Club, error) {
	rows, err := c.query(ctx, "SELECT "+clubColumns+" FROM clubs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query clubs: %w", err)
	}
	defer rows.Close()

	var out []clubs.Club
	for rows.Next() {
		club, err := scanClub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, club)
	}
	return out, rows.Err()
}

func (c *conn) UpdateClub(ctx context.Context, club clubs.Club) error {
	err := c.execOne(ctx, clubs.ErrNotFound, `
		UPDATE clubs SET name = ?, alias = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		club.Name, club.Alias, club.Description, formatTime(c.now()), club.ID,
	)
	if isUniqueConstraintError(err) {
		return clubs.ErrDuplicate
	}
	return err
}

// DeleteClub removes the club. Roles, memberships, events and templates go
// with it through ON DELETE CASCADE.
func (c *conn) DeleteClub(ctx context.Context, id int64) error {
	return c.execOne(ctx, clubs.ErrNotFound, "DELETE FROM clubs WHERE id = ?", id)
}

func scanClub(s scanner) (clubs.Club, error) {
	var (
		club             clubs.Club
		created, updated string
	)
	if err := s.Scan(&club.ID, &club.UUID, &club.Name, &club.Alias, &club.Description, &created, &updated); err != nil {
		return club, err
	}
	club.CreatedAt = parseTime(created)
	club.UpdatedAt = parseTime(updated)
	return club, nil
}

// =============================================================================
// ROLES
// =============================================================================

const roleColumns = "id, club_id, name, is_default, created_at"

func (c *conn) CreateRole(ctx context.Context, r *clubs.ClubRole) error {
	r.CreatedAt = c.now()
	id, err := c.insert(ctx, `
		INSERT INTO club_roles (club_id, name, is_default, created_at)
		VALUES (?, ?, ?, ?)`,
		r.ClubID, r.Name, r.IsDefault, formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return clubs.ErrDuplicate
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	r.ID = id
	return nil
}

func (c *conn) ListRoles(ctx context.Context, clubID int64) ([]clubs.ClubRole, error) {
	return c.queryRoles(ctx, "SELECT "+roleColumns+" FROM club_roles WHERE club_id = ? ORDER BY name", clubID)
}

func (c *conn) GetRoleByName(ctx context.Context, clubID int64, name string) (clubs.ClubRole, error) {
	row := c.queryRow(ctx, "SELECT "+roleColumns+" FROM club_roles WHERE club_id = ? AND name = ?", clubID, name)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.ClubRole{}, clubs.ErrRoleNotFound
	}
	return r, err
}

func (c *conn) queryRoles(ctx context.Context, query string, args ...any) ([]clubs.ClubRole, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var out []clubs.ClubRole
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRole(s scanner) (clubs.ClubRole, error) {
	var (
		r       clubs.ClubRole
		created string
	)
	if err := s.Scan(&r.ID, &r.ClubID, &r.Name, &r.IsDefault, &created); err != nil {
		return r, err
	}
	r.CreatedAt = parseTime(created)
	return r, nil
}

// =============================================================================
// MEMBERSHIPS
// =============================================================================

const membershipColumns = "id, club_id, user_id, points, is_owner, created_at"

func (c *conn) CreateMembership(ctx context.Context, m *clubs.Membership) error {
	m.CreatedAt = c.now()
	id, err := c.insert(ctx, `
		INSERT INTO memberships (club_id, user_id, points, is_owner, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ClubID, m.UserID, m.Points.String(), m.IsOwner, formatTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return clubs.ErrDuplicate
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	m.ID = id

	for _, r := range m.Roles {
		if err := c.addRole(ctx, id, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) GetMembership(ctx context.Context, clubID, userID int64) (clubs.Membership, error) {
	row := c.queryRow(ctx, "SELECT "+membershipColumns+" FROM memberships WHERE club_id = ? AND user_id = ?", clubID, userID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.Membership{}, clubs.ErrNotMember
	}
	if err != nil {
		return m, err
	}
	m.Roles, err = c.membershipRoles(ctx, m.ID)
	return m, err
}

func (c *conn) ListMemberships(ctx context.Context, clubID int64) ([]clubs.Membership, error) {
	rows, err := c.query(ctx, "SELECT "+membershipColumns+" FROM memberships WHERE club_id = ? ORDER BY id", clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}

	var out []clubs.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Roles, err = c.membershipRoles(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *conn) membershipRoles(ctx context.Context, membershipID int64) ([]clubs.ClubRole, error) {
	return c.queryRoles(ctx, `
		SELECT r.id, r.club_id, r.name, r.is_default, r.created_at
		FROM club_roles r
		JOIN membership_roles mr ON mr.role_id = r.id
		WHERE mr.membership_id = ?
		ORDER BY r.name`, membershipID)
}

func (c *conn) SetMembershipRoles(ctx context.Context, membershipID int64, roleIDs []int64) error {
	if err := c.membershipExists(ctx, membershipID); err != nil {
		return err
	}
	if _, err := c.exec(ctx, "DELETE FROM membership_roles WHERE membership_id = ?", membershipID); err != nil {
		return fmt.Errorf("failed to clear roles: %w", err)
	}
	for _, id := range roleIDs {
		if err := c.addRole(ctx, membershipID, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) AddMembershipRole(ctx context.Context, membershipID, roleID int64) error {
	if err := c.membershipExists(ctx, membershipID); err != nil {
		return err
	}
	return c.addRole(ctx, membershipID, roleID)
}

func (c *conn) addRole(ctx context.Context, membershipID, roleID int64) error {
	_, err := c.exec(ctx, `
		INSERT INTO membership_roles (membership_id, role_id) VALUES (?, ?)
		ON CONFLICT (membership_id, role_id) DO NOTHING`,
		membershipID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (c *conn) membershipExists(ctx context.Context, id int64) error {
	var one int
	err := c.queryRow(ctx, "SELECT 1 FROM memberships WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return clubs.ErrNotMember
	}
	return err
}

func (c *conn) UpdateMembershipPoints(ctx context.Context, membershipID int64, points decimal.Decimal) error {
	return c.execOne(ctx, clubs.ErrNotMember,
		"UPDATE memberships SET points = ? WHERE id = ?", points.String(), membershipID)
}

func scanMembership(s scanner) (clubs.Membership, error) {
	var (
		m       clubs.Membership
		points  string
		created string
	)
	if err := s.Scan(&m.ID, &m.ClubID, &m.UserID, &points, &m.IsOwner, &created); err != nil {
		return m, err
	}
	p, err := decimal.NewFromString(points)
	if err != nil {
		return m, fmt.Errorf("membership %d: bad points %q: %w", m.ID, points, err)
	}
	m.Points = p
	m.CreatedAt = parseTime(created)
	return m, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (c *conn) RecordAttendance(ctx context.Context, a *clubs.Attendance) (bool, error) {
	a.CreatedAt = c.now()
	id, err := c.insert(ctx, `
		INSERT INTO attendance (membership_id, event_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (membership_id, event_id) DO NOTHING`,
		a.MembershipID, a.EventID, formatTime(a.CreatedAt),
	)
	switch {
	case err == nil:
		a.ID = id
		return true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("failed to record attendance: %w", err)
	}

	// Conflict: nothing was returned, load the existing row.
	var created string
	err = c.queryRow(ctx,
		"SELECT id, created_at FROM attendance WHERE membership_id = ? AND event_id = ?",
		a.MembershipID, a.EventID,
	).Scan(&a.ID, &created)
	if err != nil {
		return false, fmt.Errorf("failed to load attendance: %w", err)
	}
	a.CreatedAt = parseTime(created)
	return false, nil
}

func (c *conn) ListAttendance(ctx context.Context, membershipID int64) ([]clubs.Attendance, error) {
	rows, err := c.query(ctx,
		"SELECT id, membership_id, event_id, created_at FROM attendance WHERE membership_id = ? ORDER BY id",
		membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var out []clubs.Attendance
	for rows.Next() {
		var (
			a       clubs.Attendance
			created string
		)
		if err := rows.Scan(&a.ID, &a.MembershipID, &a.EventID, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
