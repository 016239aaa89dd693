// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/api/middleware"
	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

const maxRequestBody = 1 << 20

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// RespondServiceError maps service and store errors onto HTTP status codes
func RespondServiceError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		RespondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
	case errors.Is(err, models.ErrProjectNotFound),
		errors.Is(err, models.ErrLicenseKeyNotFound),
		errors.Is(err, models.ErrRedemptionNotFound),
		errors.Is(err, models.ErrAPIKeyNotFound):
		RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidSlug),
		errors.Is(err, models.ErrInvalidKeyType):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrProjectSlugTaken):
		RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrStoreUnavailable):
		log.Warn().Err(err).Msg(fallback)
		RespondError(w, http.StatusServiceUnavailable, services.ReasonStoreUnavailable.Message())
	default:
		log.Error().Err(err).Msg(fallback)
		RespondError(w, http.StatusInternalServerError, fallback)
	}
}

// DecodeJSON reads a bounded JSON body into dst
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ParseIDFromPath extracts a positive integer chi URL parameter
func ParseIDFromPath(r *http.Request, param string) (int, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", param)
	}

	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", param, raw)
	}

	return id, nil
}

// parseOptionalInt reads an optional integer query parameter
func parseOptionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}

// auditLog starts an info event tagged with the authenticated caller
func auditLog(r *http.Request) *zerolog.Event {
	ev := log.Info()
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		ev = ev.Str("actor", p.Name).Str("auth", p.Method)
	}
	return ev
}
