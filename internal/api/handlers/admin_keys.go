// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

// AdminKeyHandler serves license key management for the operator
type AdminKeyHandler struct {
	keys *services.LicenseKeyService
}

func NewAdminKeyHandler(keys *services.LicenseKeyService) *AdminKeyHandler {
	return &AdminKeyHandler{keys: keys}
}

type UpdateKeyStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// List returns keys filtered by projectId, keyType and isActive, optionally fuzzy-searched
func (h *AdminKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.ListFilter

	projectID, err := parseOptionalInt(r, "projectId")
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.ProjectID = projectID

	if raw := r.URL.Query().Get("keyType"); raw != "" {
		keyType, err := models.ParseKeyType(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.KeyType = &keyType
	}

	if raw := r.URL.Query().Get("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid isActive")
			return
		}
		filter.IsActive = &active
	}

	keys, err := h.keys.ListKeys(r.Context(), filter, r.URL.Query().Get("search"))
	if err != nil {
		RespondServiceError(w, err, "Failed to list license keys")
		return
	}
	if keys == nil {
		keys = []*models.LicenseKey{}
	}

	RespondJSON(w, http.StatusOK, keys)
}

// Create issues one or more keys sharing the same policy
func (h *AdminKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	keys, err := h.keys.CreateKeys(r.Context(), req)
	if err != nil {
		if len(keys) > 0 {
			log.Warn().Err(err).Int("created", len(keys)).Msg("License key batch partially created")
		}
		RespondServiceError(w, err, "Failed to create license keys")
		return
	}

	auditLog(r).Int("projectID", req.ProjectID).Int("count", len(keys)).Str("keyType", string(req.KeyType)).Msg("Issued license keys")
	RespondJSON(w, http.StatusCreated, keys)
}

// UpdateStatus activates or revokes a key
func (h *AdminKeyHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "keyID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid license key ID")
		return
	}

	var req UpdateKeyStatusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		RespondError(w, http.StatusBadRequest, "isActive is required")
		return
	}

	key, err := h.keys.SetKeyActive(r.Context(), id, *req.IsActive)
	if err != nil {
		RespondServiceError(w, err, "Failed to update license key")
		return
	}
	auditLog(r).Int("keyID", id).Bool("isActive", key.IsActive).Msg("Updated license key status")

	RespondJSON(w, http.StatusOK, key)
}

// Analytics summarizes redemptions, optionally for one project
func (h *AdminKeyHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseOptionalInt(r, "projectId")
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	analytics, err := h.keys.GetAnalytics(r.Context(), projectID)
	if err != nil {
		RespondServiceError(w, err, "Failed to load analytics")
		return
	}

	RespondJSON(w, http.StatusOK, analytics)
}
