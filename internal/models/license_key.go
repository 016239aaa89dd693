// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/licensegate/internal/database"
)

var (
	ErrLicenseKeyNotFound = errors.New("license key not found")
	ErrDuplicateKeyCode   = errors.New("license key code already exists")
	ErrUsageLimitReached  = errors.New("license key usage limit reached")
	ErrInvalidKeyType     = errors.New("invalid license key type")
)

// KeyType is the redemption policy of a license key
type KeyType string

const (
	KeyTypeSingleUse   KeyType = "single_use"
	KeyTypeMultiUse    KeyType = "multi_use"
	KeyTypeTimeLimited KeyType = "time_limited"
	KeyTypeUnlimited   KeyType = "unlimited"
)

// UnlimitedMaxUses is stored in max_uses for unlimited keys; the value is never consulted
const UnlimitedMaxUses = 999999

// KeyTypes lists every key type in display order
var KeyTypes = []KeyType{KeyTypeSingleUse, KeyTypeMultiUse, KeyTypeTimeLimited, KeyTypeUnlimited}

func (t KeyType) Valid() bool {
	switch t {
	case KeyTypeSingleUse, KeyTypeMultiUse, KeyTypeTimeLimited, KeyTypeUnlimited:
		return true
	}
	return false
}

func (t KeyType) String() string {
	return string(t)
}

// ParseKeyType accepts the stored names case-insensitively
func ParseKeyType(s string) (KeyType, error) {
	t := KeyType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.Wrapf(ErrInvalidKeyType, "%q", s)
	}
	return t, nil
}

// LicenseKey gates access to one project's download
type LicenseKey struct {
	ID           int        `json:"id"`
	KeyCode      string     `json:"keyCode"`
	ProjectID    int        `json:"projectId"`
	ProjectTitle string     `json:"projectTitle,omitempty"`
	KeyType      KeyType    `json:"keyType"`
	MaxUses      int        `json:"maxUses"`
	CurrentUses  int        `json:"currentUses"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	IsActive     bool       `json:"isActive"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsExpired reports whether the key has an expiry strictly before now
func (k *LicenseKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// UsageExhausted reports whether a capped key has no redemptions left
func (k *LicenseKey) UsageExhausted() bool {
	if k.KeyType == KeyTypeUnlimited {
		return false
	}
	return k.CurrentUses >= k.MaxUses
}

// ListFilter narrows LicenseKeyStore.List; nil fields are not applied
type ListFilter struct {
	ProjectID *int
	KeyType   *KeyType
	IsActive  *bool
}

// KeyTypeCount is one row of the key inventory rollup
type KeyTypeCount struct {
	KeyType KeyType
	Active  bool
	Count   int
}

type LicenseKeyStore struct {
	q database.Querier
}

func NewLicenseKeyStore(db *database.DB) *LicenseKeyStore {
	return &LicenseKeyStore{q: db}
}

// WithTx returns a store bound to tx
func (s *LicenseKeyStore) WithTx(tx *database.Tx) *LicenseKeyStore {
	return &LicenseKeyStore{q: tx}
}

const licenseKeyColumns = `id, key_code, project_id, key_type, max_uses, current_uses, expires_at, is_active, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicenseKey(row rowScanner, extra ...any) (*LicenseKey, error) {
	key := &LicenseKey{}
	dest := []any{
		&key.ID,
		&key.KeyCode,
		&key.ProjectID,
		&key.KeyType,
		&key.MaxUses,
		&key.CurrentUses,
		&key.ExpiresAt,
		&key.IsActive,
		&key.Notes,
		&key.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return key, nil
}

// Insert stores a new key. A key_code collision returns ErrDuplicateKeyCode.
func (s *LicenseKeyStore) Insert(ctx context.Context, key *LicenseKey) (*LicenseKey, error) {
	if !key.KeyType.Valid() {
		return nil, errors.Wrapf(ErrInvalidKeyType, "%q", key.KeyType)
	}

	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var expiresAt *time.Time
	if key.ExpiresAt != nil {
		utc := key.ExpiresAt.UTC()
		expiresAt = &utc
	}

	query := `
		INSERT INTO license_keys (key_code, project_id, key_type, max_uses, current_uses, expires_at, is_active, notes, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		RETURNING ` + licenseKeyColumns

	created, err := scanLicenseKey(s.q.QueryRowContext(ctx, query,
		key.KeyCode,
		key.ProjectID,
		string(key.KeyType),
		key.MaxUses,
		expiresAt,
		true,
		key.Notes,
		createdAt.UTC(),
	))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Wrap(ErrDuplicateKeyCode, key.KeyCode)
		}
		return nil, database.Classify(err)
	}

	return created, nil
}

func (s *LicenseKeyStore) Get(ctx context.Context, id int) (*LicenseKey, error) {
	query := `SELECT ` + licenseKeyColumns + ` FROM license_keys WHERE id = ?`

	key, err := scanLicenseKey(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseKeyNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return key, nil
}

// FindByCodeAndProject looks up an active key issued for projectID. The code must already be normalized.
func (s *LicenseKeyStore) FindByCodeAndProject(ctx context.Context, code string, projectID int) (*LicenseKey, error) {
	query := `
		SELECT ` + licenseKeyColumns + `
		FROM license_keys
		WHERE key_code = ? AND project_id = ? AND is_active = ?
	`

	key, err := scanLicenseKey(s.q.QueryRowContext(ctx, query, code, projectID, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseKeyNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return key, nil
}

// List returns keys newest first, each carrying its project title
func (s *LicenseKeyStore) List(ctx context.Context, filter ListFilter) ([]*LicenseKey, error) {
	var (
		where []string
		args  []any
	)

	if filter.ProjectID != nil {
		where = append(where, "lk.project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.KeyType != nil {
		where = append(where, "lk.key_type = ?")
		args = append(args, string(*filter.KeyType))
	}
	if filter.IsActive != nil {
		where = append(where, "lk.is_active = ?")
		args = append(args, *filter.IsActive)
	}

	query := `
		SELECT lk.id, lk.key_code, lk.project_id, lk.key_type, lk.max_uses, lk.current_uses,
		       lk.expires_at, lk.is_active, lk.notes, lk.created_at, COALESCE(p.title, '')
		FROM license_keys lk
		LEFT JOIN projects p ON p.id = lk.project_id
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY lk.created_at DESC, lk.id DESC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*LicenseKey
	for rows.Next() {
		var title string
		key, err := scanLicenseKey(rows, &title)
		if err != nil {
			return nil, err
		}
		key.ProjectTitle = title
		keys = append(keys, key)
	}

	return keys, database.Classify(rows.Err())
}

// UpdateActive revokes or re-enables a key without touching its history
func (s *LicenseKeyStore) UpdateActive(ctx context.Context, id int, isActive bool) (*LicenseKey, error) {
	query := `UPDATE license_keys SET is_active = ? WHERE id = ? RETURNING ` + licenseKeyColumns

	key, err := scanLicenseKey(s.q.QueryRowContext(ctx, query, isActive, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseKeyNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return key, nil
}

// IncrementUses consumes one use in a single conditional update. The row only
// changes while the key is active and, unless unlimited, below its cap, so
// concurrent callers can never push current_uses past max_uses.
func (s *LicenseKeyStore) IncrementUses(ctx context.Context, id int) (*LicenseKey, error) {
	query := `
		UPDATE license_keys
		SET current_uses = current_uses + 1
		WHERE id = ? AND is_active = ? AND (key_type = ? OR current_uses < max_uses)
		RETURNING ` + licenseKeyColumns

	key, err := scanLicenseKey(s.q.QueryRowContext(ctx, query, id, true, string(KeyTypeUnlimited)))
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, database.Classify(err)
	}

	// Nothing matched; work out why
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.IsActive {
		return nil, ErrLicenseKeyNotFound
	}

	return nil, ErrUsageLimitReached
}

// CountByType groups the key inventory by type and active flag
func (s *LicenseKeyStore) CountByType(ctx context.Context) ([]KeyTypeCount, error) {
	query := `
		SELECT key_type, is_active, COUNT(*)
		FROM license_keys
		GROUP BY key_type, is_active
		ORDER BY key_type
	`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []KeyTypeCount
	for rows.Next() {
		var c KeyTypeCount
		if err := rows.Scan(&c.KeyType, &c.Active, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, database.Classify(rows.Err())
}
