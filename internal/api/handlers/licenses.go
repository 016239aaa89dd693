// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/keygen"
	"github.com/autobrr/licensegate/internal/services"
)

// LicenseHandler serves the public key validation and redemption endpoints
type LicenseHandler struct {
	keys *services.LicenseKeyService
}

func NewLicenseHandler(keys *services.LicenseKeyService) *LicenseHandler {
	return &LicenseHandler{keys: keys}
}

type ValidateKeyRequest struct {
	KeyCode   string `json:"keyCode"`
	ProjectID int    `json:"projectId"`
}

// Validate checks a key without consuming a use. Rejections are 200 responses.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.keys.Validate(r.Context(), req.KeyCode, req.ProjectID)
	if err != nil {
		if errors.Is(err, database.ErrStoreUnavailable) {
			log.Warn().Err(err).Str("licenseKey", keygen.Mask(keygen.Normalize(req.KeyCode))).Msg("License validation unavailable")
			RespondJSON(w, http.StatusServiceUnavailable, &services.ValidationResult{
				Reason:  services.ReasonStoreUnavailable,
				Message: services.ReasonStoreUnavailable.Message(),
			})
			return
		}
		RespondServiceError(w, err, "Failed to validate license key")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Redeem consumes one use of a key and returns the download link
func (h *LicenseHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req services.RedeemRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.IP = remoteIP(r)

	result, err := h.keys.Redeem(r.Context(), req)
	if err != nil {
		if errors.Is(err, database.ErrStoreUnavailable) {
			log.Warn().Err(err).Str("licenseKey", keygen.Mask(keygen.Normalize(req.KeyCode))).Msg("License redemption unavailable")
			RespondJSON(w, http.StatusServiceUnavailable, &services.RedeemResult{
				Reason:  services.ReasonStoreUnavailable,
				Message: services.ReasonStoreUnavailable.Message(),
			})
			return
		}
		RespondServiceError(w, err, "Failed to redeem license key")
		return
	}

	if !result.Success {
		log.Debug().
			Str("licenseKey", keygen.Mask(keygen.Normalize(req.KeyCode))).
			Int("projectID", req.ProjectID).
			Str("reason", string(result.Reason)).
			Msg("License key redemption rejected")
	}

	RespondJSON(w, http.StatusOK, result)
}

// CheckRedemption reports whether an email already redeemed a key for a project
func (h *LicenseHandler) CheckRedemption(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseOptionalInt(r, "projectId")
	if err != nil || projectID == nil || *projectID <= 0 {
		RespondError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	status, err := h.keys.CheckUserRedemption(r.Context(), *projectID, r.URL.Query().Get("email"))
	if err != nil {
		RespondServiceError(w, err, "Failed to check redemption")
		return
	}

	RespondJSON(w, http.StatusOK, status)
}

// TrackDownloadRequest proves the caller holds the key that was redeemed
type TrackDownloadRequest struct {
	KeyCode string `json:"keyCode"`
}

// TrackDownload records a download for a redemption. A key code that does
// not match the redemption is answered like a missing redemption.
func (h *LicenseHandler) TrackDownload(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "redemptionID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid redemption ID")
		return
	}

	var req TrackDownloadRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.keys.TrackDownload(r.Context(), id, req.KeyCode)
	if err != nil {
		RespondServiceError(w, err, "Failed to track download")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
