// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/api/middleware"
	"github.com/autobrr/licensegate/internal/auth"
	"github.com/autobrr/licensegate/internal/models"
)

const sessionMaxAge = 7 * 24 * time.Hour

// AuthHandler serves operator login, session and API key management
type AuthHandler struct {
	authService *auth.Service
}

func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Credentials is the body of both setup and login
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

type UserResponse struct {
	ID         int    `json:"id,omitempty"`
	Username   string `json:"username"`
	AuthMethod string `json:"authMethod"`
}

type AuthResponse struct {
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

type APIKeyCreatedResponse struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// authErrorStatus maps auth failures to the status and text shown to the caller
var authErrorStatus = []struct {
	err     error
	status  int
	message string
}{
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{auth.ErrNotSetup, http.StatusPreconditionRequired, "Initial setup required"},
	{auth.ErrAlreadySetup, http.StatusBadRequest, "Setup already completed"},
	{auth.ErrWeakPassword, http.StatusBadRequest, auth.ErrWeakPassword.Error()},
	{models.ErrAPIKeyNotFound, http.StatusNotFound, "API key not found"},
}

func respondAuthError(w http.ResponseWriter, err error, fallback string) {
	for _, m := range authErrorStatus {
		if errors.Is(err, m.err) {
			RespondError(w, m.status, m.message)
			return
		}
	}
	RespondServiceError(w, err, fallback)
}

// Setup creates the operator account and logs it in
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.authService.SetupUser(r.Context(), req.Username, req.Password)
	if err != nil {
		respondAuthError(w, err, "Failed to create user")
		return
	}

	if !h.startSession(w, r, user) {
		return
	}

	log.Info().Str("username", user.Username).Msg("Operator account created")
	RespondJSON(w, http.StatusCreated, AuthResponse{
		Message: "Setup completed successfully",
		User:    UserResponse{ID: user.ID, Username: user.Username, AuthMethod: "session"},
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Failed operator login")
		}
		respondAuthError(w, err, "Login failed")
		return
	}

	if !h.startSession(w, r, user) {
		return
	}

	RespondJSON(w, http.StatusOK, AuthResponse{
		Message: "Login successful",
		User:    UserResponse{ID: user.ID, Username: user.Username, AuthMethod: "session"},
	})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *models.User) bool {
	session, _ := h.authService.GetSessionStore().Get(r, auth.SessionName)
	session.Values["authenticated"] = true
	session.Values["user_id"] = user.ID
	session.Values["username"] = user.Username

	secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		session.Options.SameSite = http.SameSiteStrictMode
	}

	if err := session.Save(r, w); err != nil {
		log.Error().Err(err).Msg("Failed to save session")
		RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return false
	}
	return true
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.authService.GetSessionStore().Get(r, auth.SessionName)
	session.Values["authenticated"] = false
	session.Options.MaxAge = -1

	if err := session.Save(r, w); err != nil {
		log.Error().Err(err).Msg("Failed to clear session")
		RespondError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	RespondJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// GetCurrentUser describes the caller. API key callers get the key name.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	session, _ := h.authService.GetSessionStore().Get(r, auth.SessionName)
	if userID, ok := session.Values["user_id"].(int); ok {
		username, _ := session.Values["username"].(string)
		RespondJSON(w, http.StatusOK, UserResponse{ID: userID, Username: username, AuthMethod: "session"})
		return
	}

	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		RespondJSON(w, http.StatusOK, UserResponse{Username: p.Name, AuthMethod: p.Method})
		return
	}

	RespondError(w, http.StatusUnauthorized, "Not authenticated")
}

func (h *AuthHandler) CheckSetupRequired(w http.ResponseWriter, r *http.Request) {
	complete, err := h.authService.IsSetupComplete(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to check setup status")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"setupRequired": !complete})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.authService.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondError(w, http.StatusUnauthorized, "Invalid current password")
			return
		}
		respondAuthError(w, err, "Failed to change password")
		return
	}

	auditLog(r).Msg("Operator password changed")
	RespondJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

// CreateAPIKey returns the raw key once, only its hash is stored
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		RespondError(w, http.StatusBadRequest, "API key name is required")
		return
	}

	rawKey, apiKey, err := h.authService.CreateAPIKey(r.Context(), req.Name)
	if err != nil {
		respondAuthError(w, err, "Failed to create API key")
		return
	}

	auditLog(r).Int("apiKeyID", apiKey.ID).Str("name", apiKey.Name).Msg("API key created")
	RespondJSON(w, http.StatusCreated, APIKeyCreatedResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       rawKey,
		CreatedAt: apiKey.CreatedAt,
		Message:   "Save this key securely - it will not be shown again",
	})
}

func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.authService.ListAPIKeys(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}

	RespondJSON(w, http.StatusOK, keys)
}

func (h *AuthHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid API key ID")
		return
	}

	if err := h.authService.DeleteAPIKey(r.Context(), id); err != nil {
		respondAuthError(w, err, "Failed to delete API key")
		return
	}

	auditLog(r).Int("apiKeyID", id).Msg("API key deleted")
	RespondJSON(w, http.StatusOK, messageResponse{Message: "API key deleted successfully"})
}
