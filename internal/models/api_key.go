// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/database"
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrInvalidAPIKey  = errors.New("invalid api key")
)

const apiKeyBytes = 32

// APIKey authenticates automation against the admin endpoints. Only the
// SHA-256 of the raw key is stored.
type APIKey struct {
	ID         int        `json:"id"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

const apiKeyColumns = `id, key_hash, name, created_at, last_used_at`

func scanAPIKey(row rowScanner) (*APIKey, error) {
	k := &APIKey{}
	if err := row.Scan(&k.ID, &k.KeyHash, &k.Name, &k.CreatedAt, &k.LastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, database.Classify(err)
	}
	return k, nil
}

type APIKeyStore struct {
	q database.Querier
}

func NewAPIKeyStore(db *database.DB) *APIKeyStore {
	return &APIKeyStore{q: db}
}

// GenerateAPIKey returns 64 hex characters of crypto/rand output
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create returns the raw key, which is shown once, alongside the stored model
func (s *APIKeyStore) Create(ctx context.Context, name string) (string, *APIKey, error) {
	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	query := `INSERT INTO api_keys (key_hash, name, created_at) VALUES (?, ?, ?) RETURNING ` + apiKeyColumns
	apiKey, err := scanAPIKey(s.q.QueryRowContext(ctx, query, HashAPIKey(rawKey), name, time.Now().UTC()))
	if err != nil {
		return "", nil, err
	}

	return rawKey, apiKey, nil
}

func (s *APIKeyStore) GetByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	return scanAPIKey(s.q.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash))
}

func (s *APIKeyStore) List(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, database.Classify(rows.Err())
}

func (s *APIKeyStore) UpdateLastUsed(ctx context.Context, id int) error {
	return s.execOne(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
}

func (s *APIKeyStore) Delete(ctx context.Context, id int) error {
	return s.execOne(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
}

// execOne runs a statement that must touch exactly one api_keys row
func (s *APIKeyStore) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return database.Classify(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// ValidateAPIKey resolves a raw key presented by a caller
func (s *APIKeyStore) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKey, error) {
	apiKey, err := s.GetByHash(ctx, HashAPIKey(rawKey))
	if errors.Is(err, ErrAPIKeyNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	// detached so the write outlives the request
	go func(id int) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.UpdateLastUsed(ctx, id); err != nil {
			log.Debug().Err(err).Int("apiKeyID", id).Msg("Failed to record API key use")
		}
	}(apiKey.ID)

	return apiKey, nil
}
