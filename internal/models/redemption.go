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

var ErrRedemptionNotFound = errors.New("redemption not found")

// UnknownKeyType labels redemptions whose key can no longer be resolved
const UnknownKeyType = "unknown"

// Redemption records one successful use of a license key
type Redemption struct {
	ID              int        `json:"id"`
	LicenseKeyID    int        `json:"licenseKeyId"`
	ProjectID       int        `json:"projectId"`
	RedeemedByEmail *string    `json:"redeemedByEmail,omitempty"`
	RedeemedByIP    *string    `json:"redeemedByIp,omitempty"`
	DownloadCount   int        `json:"downloadCount"`
	RedeemedAt      time.Time  `json:"redeemedAt"`
	LastDownloadAt  *time.Time `json:"lastDownloadAt,omitempty"`

	// Populated by joined queries only
	KeyCode      string `json:"keyCode,omitempty"`
	KeyType      string `json:"keyType,omitempty"`
	ProjectTitle string `json:"projectTitle,omitempty"`
}

// RedemptionFilter narrows RedemptionStore.ListDetailed
type RedemptionFilter struct {
	ProjectID *int
}

// RedemptionTypeCount is one row of the redemption rollup by key type
type RedemptionTypeCount struct {
	KeyType     string
	Redemptions int
	Downloads   int
}

type RedemptionStore struct {
	q database.Querier
}

func NewRedemptionStore(db *database.DB) *RedemptionStore {
	return &RedemptionStore{q: db}
}

// WithTx returns a store bound to tx
func (s *RedemptionStore) WithTx(tx *database.Tx) *RedemptionStore {
	return &RedemptionStore{q: tx}
}

const redemptionColumns = `id, license_key_id, project_id, redeemed_by_email, redeemed_by_ip, download_count, redeemed_at, last_download_at`

func scanRedemption(row rowScanner, extra ...any) (*Redemption, error) {
	r := &Redemption{}
	dest := []any{
		&r.ID,
		&r.LicenseKeyID,
		&r.ProjectID,
		&r.RedeemedByEmail,
		&r.RedeemedByIP,
		&r.DownloadCount,
		&r.RedeemedAt,
		&r.LastDownloadAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RedemptionStore) Create(ctx context.Context, r *Redemption) (*Redemption, error) {
	redeemedAt := r.RedeemedAt
	if redeemedAt.IsZero() {
		redeemedAt = time.Now()
	}

	query := `
		INSERT INTO license_redemptions (license_key_id, project_id, redeemed_by_email, redeemed_by_ip, download_count, redeemed_at)
		VALUES (?, ?, ?, ?, 0, ?)
		RETURNING ` + redemptionColumns

	created, err := scanRedemption(s.q.QueryRowContext(ctx, query,
		r.LicenseKeyID,
		r.ProjectID,
		r.RedeemedByEmail,
		r.RedeemedByIP,
		redeemedAt.UTC(),
	))
	if err != nil {
		return nil, database.Classify(err)
	}

	return created, nil
}

func (s *RedemptionStore) Get(ctx context.Context, id int) (*Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM license_redemptions WHERE id = ?`

	r, err := scanRedemption(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return r, nil
}

// IncrementDownload bumps download_count and stamps last_download_at. The
// redemption must belong to the key with keyCode; otherwise it is not found.
func (s *RedemptionStore) IncrementDownload(ctx context.Context, id int, keyCode string, at time.Time) (*Redemption, error) {
	query := `
		UPDATE license_redemptions
		SET download_count = download_count + 1, last_download_at = ?
		WHERE id = ?
		  AND license_key_id IN (SELECT lk.id FROM license_keys lk WHERE lk.key_code = ?)
		RETURNING ` + redemptionColumns

	r, err := scanRedemption(s.q.QueryRowContext(ctx, query, at.UTC(), id, keyCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return r, nil
}

// LatestForEmail returns the most recent redemption of projectID by email.
// KeyCode is left empty; the result is served to unauthenticated callers.
func (s *RedemptionStore) LatestForEmail(ctx context.Context, projectID int, email string) (*Redemption, error) {
	query := `
		SELECT r.id, r.license_key_id, r.project_id, r.redeemed_by_email, r.redeemed_by_ip,
		       r.download_count, r.redeemed_at, r.last_download_at,
		       COALESCE(lk.key_type, ?)
		FROM license_redemptions r
		LEFT JOIN license_keys lk ON lk.id = r.license_key_id
		WHERE r.project_id = ? AND r.redeemed_by_email = ?
		ORDER BY r.redeemed_at DESC, r.id DESC
		LIMIT 1
	`

	var keyType string
	r, err := scanRedemption(s.q.QueryRowContext(ctx, query, UnknownKeyType, projectID, email), &keyType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	r.KeyType = keyType

	return r, nil
}

// ListDetailed returns redemptions newest first, joined with key type and project title
func (s *RedemptionStore) ListDetailed(ctx context.Context, filter RedemptionFilter) ([]*Redemption, error) {
	query := `
		SELECT r.id, r.license_key_id, r.project_id, r.redeemed_by_email, r.redeemed_by_ip,
		       r.download_count, r.redeemed_at, r.last_download_at,
		       COALESCE(lk.key_code, ''), COALESCE(lk.key_type, ?), COALESCE(p.title, '')
		FROM license_redemptions r
		LEFT JOIN license_keys lk ON lk.id = r.license_key_id
		LEFT JOIN projects p ON p.id = r.project_id
	`
	args := []any{UnknownKeyType}

	if filter.ProjectID != nil {
		query += " WHERE r.project_id = ?"
		args = append(args, *filter.ProjectID)
	}
	query += " ORDER BY r.redeemed_at DESC, r.id DESC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []*Redemption
	for rows.Next() {
		var keyCode, keyType, title string
		r, err := scanRedemption(rows, &keyCode, &keyType, &title)
		if err != nil {
			return nil, err
		}
		r.KeyCode = keyCode
		r.KeyType = keyType
		r.ProjectTitle = title
		redemptions = append(redemptions, r)
	}

	return redemptions, database.Classify(rows.Err())
}

// CountByType rolls redemptions and downloads up by the redeemed key's type
func (s *RedemptionStore) CountByType(ctx context.Context) ([]RedemptionTypeCount, error) {
	query := `
		SELECT COALESCE(lk.key_type, ?), COUNT(r.id), COALESCE(SUM(r.download_count), 0)
		FROM license_redemptions r
		LEFT JOIN license_keys lk ON lk.id = r.license_key_id
		GROUP BY 1
	`

	rows, err := s.q.QueryContext(ctx, query, UnknownKeyType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []RedemptionTypeCount
	for rows.Next() {
		var c RedemptionTypeCount
		if err := rows.Scan(&c.KeyType, &c.Redemptions, &c.Downloads); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, database.Classify(rows.Err())
}
