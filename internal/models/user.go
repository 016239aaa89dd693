// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/licensegate/internal/database"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// operatorID is the fixed row id; the table's CHECK constraint allows no other
const operatorID = 1

// User is the single operator account allowed to manage keys
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const userColumns = `id, username, password_hash, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, database.Classify(err)
	}
	return u, nil
}

type UserStore struct {
	q database.Querier
}

func NewUserStore(db *database.DB) *UserStore {
	return &UserStore{q: db}
}

// Create inserts the operator row. A second call fails with ErrUserAlreadyExists.
func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	query := `INSERT INTO "user" (id, username, password_hash) VALUES (?, ?, ?) RETURNING ` + userColumns

	user, err := scanUser(s.q.QueryRowContext(ctx, query, operatorID, username, passwordHash))
	if err != nil && database.IsUniqueViolation(err) {
		return nil, ErrUserAlreadyExists
	}
	return user, err
}

func (s *UserStore) Get(ctx context.Context) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM "user" WHERE id = ?`, operatorID))
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM "user" WHERE username = ?`, username))
}

func (s *UserStore) UpdatePassword(ctx context.Context, passwordHash string) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE "user" SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), operatorID)
	if err != nil {
		return database.Classify(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (s *UserStore) Exists(ctx context.Context) (bool, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM "user"`).Scan(&count); err != nil {
		return false, database.Classify(err)
	}
	return count > 0, nil
}
