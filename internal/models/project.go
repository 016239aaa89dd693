// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/licensegate/internal/database"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectSlugTaken = errors.New("project slug already exists")
	ErrInvalidSlug      = errors.New("invalid project slug")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Project is a showcase project whose source download is gated by license keys
type Project struct {
	ID          int       `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Public strips the gated download link
func (p *Project) Public() *Project {
	cp := *p
	cp.DownloadURL = ""
	return &cp
}

// NormalizeSlug lowercases and validates a project slug
func NormalizeSlug(slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return "", errors.Wrapf(ErrInvalidSlug, "%q", slug)
	}
	return slug, nil
}

type ProjectStore struct {
	q database.Querier
}

func NewProjectStore(db *database.DB) *ProjectStore {
	return &ProjectStore{q: db}
}

const projectColumns = `id, slug, title, download_url, created_at, updated_at`

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Title,
		&p.DownloadURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectStore) Create(ctx context.Context, slug, title, downloadURL string) (*Project, error) {
	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO projects (slug, title, download_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ` + projectColumns

	p, err := scanProject(s.q.QueryRowContext(ctx, query, slug, strings.TrimSpace(title), downloadURL, now, now))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Wrap(ErrProjectSlugTaken, slug)
		}
		return nil, database.Classify(err)
	}

	return p, nil
}

func (s *ProjectStore) Get(ctx context.Context, id int) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`

	p, err := scanProject(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return p, nil
}

func (s *ProjectStore) GetBySlug(ctx context.Context, slug string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE slug = ?`

	p, err := scanProject(s.q.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(slug))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return p, nil
}

func (s *ProjectStore) List(ctx context.Context) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY title, id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, database.Classify(rows.Err())
}

func (s *ProjectStore) Update(ctx context.Context, id int, title, downloadURL string) (*Project, error) {
	query := `
		UPDATE projects
		SET title = ?, download_url = ?, updated_at = ?
		WHERE id = ?
		RETURNING ` + projectColumns

	p, err := scanProject(s.q.QueryRowContext(ctx, query, strings.TrimSpace(title), downloadURL, time.Now().UTC(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	return p, nil
}
