// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/models"
)

const (
	projectCacheTTL   = 5 * time.Minute
	projectListKey    = "projects:all"
	projectKeyPattern = "project:%d"
)

// CreateProjectRequest is the admin payload for a new project
type CreateProjectRequest struct {
	Slug        string `json:"slug" validate:"required,max=64"`
	Title       string `json:"title" validate:"required,max=200"`
	DownloadURL string `json:"downloadUrl" validate:"omitempty,url"`
}

// UpdateProjectRequest replaces a project's title and download link
type UpdateProjectRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	DownloadURL string `json:"downloadUrl" validate:"omitempty,url"`
}

// ProjectService fronts the project store with a read cache
type ProjectService struct {
	store *models.ProjectStore
	cache *ristretto.Cache
}

func NewProjectService(db *database.DB) (*ProjectService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create project cache: %w", err)
	}

	return &ProjectService{
		store: models.NewProjectStore(db),
		cache: cache,
	}, nil
}

// Close releases the cache
func (s *ProjectService) Close() {
	s.cache.Close()
}

func (s *ProjectService) Create(ctx context.Context, req CreateProjectRequest) (*models.Project, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	project, err := s.store.Create(ctx, req.Slug, req.Title, req.DownloadURL)
	if err != nil {
		return nil, err
	}

	s.cache.Del(projectListKey)
	log.Info().Int("projectID", project.ID).Str("slug", project.Slug).Msg("Project created")

	return project, nil
}

func (s *ProjectService) Update(ctx context.Context, id int, req UpdateProjectRequest) (*models.Project, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	project, err := s.store.Update(ctx, id, req.Title, req.DownloadURL)
	if err != nil {
		return nil, err
	}

	s.invalidate(id)
	return project, nil
}

// Get returns the project, served from cache when possible
func (s *ProjectService) Get(ctx context.Context, id int) (*models.Project, error) {
	cacheKey := fmt.Sprintf(projectKeyPattern, id)
	if cached, found := s.cache.Get(cacheKey); found {
		if project, ok := cached.(*models.Project); ok {
			return project, nil
		}
	}

	project, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.SetWithTTL(cacheKey, project, 1, projectCacheTTL)
	return project, nil
}

func (s *ProjectService) GetBySlug(ctx context.Context, slug string) (*models.Project, error) {
	return s.store.GetBySlug(ctx, slug)
}

func (s *ProjectService) List(ctx context.Context) ([]*models.Project, error) {
	if cached, found := s.cache.Get(projectListKey); found {
		if projects, ok := cached.([]*models.Project); ok {
			return projects, nil
		}
	}

	projects, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.SetWithTTL(projectListKey, projects, 1, projectCacheTTL)
	return projects, nil
}

// ListPublic returns projects without their download links
func (s *ProjectService) ListPublic(ctx context.Context) ([]*models.Project, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	public := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		public = append(public, p.Public())
	}
	return public, nil
}

func (s *ProjectService) invalidate(id int) {
	s.cache.Del(fmt.Sprintf(projectKeyPattern, id))
	s.cache.Del(projectListKey)
}
