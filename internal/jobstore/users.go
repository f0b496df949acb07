// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserNotFound is returned for unknown usernames
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a username that is taken
	ErrUserExists = errors.New("user already exists")
)

// User is an API account allowed to log in to the gateway
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type userRow struct {
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

// CreateUser stores a user with an already hashed password
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	if username == "" || passwordHash == "" {
		return nil, fmt.Errorf("username and password hash are required")
	}

	query := `INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?) ON CONFLICT(username) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUserExists
	}

	s.logger.Info().Str("username", username).Msg("User created")
	return s.GetUser(ctx, username)
}

// GetUser looks a user up by name
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var row userRow
	query := `SELECT username, password_hash, created_at FROM users WHERE username = ?`
	if err := s.db.GetContext(ctx, &row, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &User{
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		CreatedAt:    time.UnixMilli(row.CreatedAt),
	}, nil
}

// DeleteUser removes a user
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
