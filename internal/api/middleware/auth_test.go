// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensegate/internal/auth"
	"github.com/autobrr/licensegate/internal/database"
)

func TestAuthMiddleware(t *testing.T) {
	ctx := t.Context()

	db, err := database.New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := auth.NewService(db, "middleware-test-secret", nil)

	var seen Principal
	protected := RequireSetup(svc)(IsAuthenticated(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(path, apiKey string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	rec := call("/api/admin/analytics", "")
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.JSONEq(t, `{"error":"Initial setup required","setup_required":true}`, rec.Body.String())

	// setup itself passes the setup gate but still needs credentials here
	assert.Equal(t, http.StatusUnauthorized, call("/api/auth/setup", "").Code)

	_, err = svc.SetupUser(ctx, "admin", "password123")
	require.NoError(t, err)

	rec = call("/api/admin/analytics", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusUnauthorized, call("/api/admin/analytics", "bogus").Code)

	raw, _, err := svc.CreateAPIKey(ctx, "ci")
	require.NoError(t, err)

	rec = call("/api/admin/analytics", raw)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Principal{Method: "api_key", Name: "ci"}, seen)
}
