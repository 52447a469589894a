package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is an account record backing auth. It's deliberately minimal,
// carrying just enough to issue signed claims; broader account management
// (settings, progress, collections) lives outside this table.
type User struct {
	ID string
	Username string
	PasswordHash string
	RoleLevel int
	CreatedAt int64
}

// CreateUser inserts a new account. Returns a unique-constraint error if the
// username is taken.
func (s *Store) CreateUser(ctx context.Context, id, username, passwordHash string, roleLevel int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role_level, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, username, passwordHash, roleLevel, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetUserByUsername returns sql.ErrNoRows if no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role_level, created_at
		FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID returns sql.ErrNoRows if no such user exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role_level, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.RoleLevel, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserRole sets a user's role level (clamped by the caller per spec
// invariant 7 before this is called).
func (s *Store) UpdateUserRole(ctx context.Context, id string, roleLevel int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role_level = ? WHERE id = ?`, roleLevel, id)
	if err != nil {
		return fmt.Errorf("store: update user role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
