package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ufcsu/clubportal/users"
)

// =============================================================================
// USERS (users.Store interface)
// =============================================================================

const userColumns = "id, uuid, email, username, first_name, last_name, password_hash, created_at, updated_at"

func (c *conn) CreateUser(ctx context.Context, u *users.User) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	u.CreatedAt = c.now()
	u.UpdatedAt = u.CreatedAt

	id, err := c.insert(ctx, `
		INSERT INTO users
		(uuid, email, username, first_name, last_name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UUID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return users.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID = id
	return nil
}

func (c *conn) GetUser(ctx context.Context, id int64) (users.User, error) {
	return c.getUser(ctx, "id = ?", id)
}

func (c *conn) GetUserByEmail(ctx context.Context, email string) (users.User, error) {
	return c.getUser(ctx, "lower(email) = lower(?)", email)
}

func (c *conn) getUser(ctx context.Context, where string, arg any) (users.User, error) {
	u, err := scanUser(c.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound
	}
	return u, err
}

// UpdateUser stores profile and password changes. The email is immutable.
func (c *conn) UpdateUser(ctx context.Context, u users.User) error {
	return c.execOne(ctx, users.ErrNotFound, `
		UPDATE users
		SET username = ?, first_name = ?, last_name = ?, password_hash = ?, updated_at = ?
		WHERE id = ?`,
		u.Username, u.FirstName, u.LastName, u.PasswordHash, formatTime(c.now()), u.ID,
	)
}

func (c *conn) ListUsers(ctx context.Context) ([]users.User, error) {
	rows, err := c.query(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(s scanner) (users.User, error) {
	var (
		u                users.User
		created, updated string
	)
	err := s.Scan(&u.ID, &u.UUID, &u.Email, &u.Username, &u.FirstName, &u.LastName,
		&u.PasswordHash, &created, &updated)
	if err != nil {
		return u, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}
