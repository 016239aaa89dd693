// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

type ProjectHandler struct {
	projects *services.ProjectService
}

func NewProjectHandler(projects *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// ListPublic lists projects without their download links
func (h *ProjectHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListPublic(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list projects")
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}

	RespondJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list projects")
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}

	RespondJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	project, err := h.projects.Create(r.Context(), req)
	if err != nil {
		RespondServiceError(w, err, "Failed to create project")
		return
	}
	auditLog(r).Int("projectID", project.ID).Str("slug", project.Slug).Msg("Created project")

	RespondJSON(w, http.StatusCreated, project)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "projectID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get project")
		return
	}

	RespondJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "projectID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	var req services.UpdateProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	project, err := h.projects.Update(r.Context(), id, req)
	if err != nil {
		RespondServiceError(w, err, "Failed to update project")
		return
	}
	auditLog(r).Int("projectID", project.ID).Msg("Updated project")

	RespondJSON(w, http.StatusOK, project)
}
