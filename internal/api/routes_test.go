// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensegate/internal/auth"
	"github.com/autobrr/licensegate/internal/config"
	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/domain"
	"github.com/autobrr/licensegate/internal/metrics"
	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

type testServer struct {
	handler  http.Handler
	auth     *auth.Service
	projects *services.ProjectService
	keys     *services.LicenseKeyService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	projects, err := services.NewProjectService(db)
	require.NoError(t, err)
	t.Cleanup(projects.Close)

	manager := metrics.NewManager(models.NewLicenseKeyStore(db), models.NewRedemptionStore(db))
	keys := services.NewLicenseKeyService(db, projects, services.WithRecorder(manager))
	authService := auth.NewService(db, "router-test-secret", nil)

	cfg := &config.AppConfig{Config: &domain.Config{
		RequestTimeout: 10,
		MetricsEnabled: true,
	}}

	return &testServer{
		handler: NewRouter(&Dependencies{
			Config:         cfg,
			AuthService:    authService,
			ProjectService: projects,
			LicenseService: keys,
			MetricsManager: manager,
		}),
		auth:     authService,
		projects: projects,
		keys:     keys,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) issue(t *testing.T, req services.CreateKeyRequest) *models.LicenseKey {
	t.Helper()
	keys, err := s.keys.CreateKeys(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0]
}

func TestPublicLicenseFlow(t *testing.T) {
	srv := newTestServer(t)

	project, err := srv.projects.Create(t.Context(), services.CreateProjectRequest{
		Slug:        "portfolio-site",
		Title:       "Portfolio Site",
		DownloadURL: "https://downloads.example.com/portfolio.zip",
	})
	require.NoError(t, err)

	key := srv.issue(t, services.CreateKeyRequest{ProjectID: project.ID, KeyType: models.KeyTypeSingleUse})

	t.Run("validate unknown key is a 200 rejection", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/licenses/validate", map[string]any{
			"keyCode":   "PROJ-0000-0000-0000",
			"projectId": project.ID,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.ValidationResult](t, rec)
		assert.False(t, res.Valid)
		assert.Equal(t, services.ReasonKeyNotFoundOrInactive, res.Reason)
		assert.Equal(t, services.ReasonKeyNotFoundOrInactive.Message(), res.Message)
	})

	t.Run("validate known key", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/licenses/validate", map[string]any{
			"keyCode":   key.KeyCode,
			"projectId": project.ID,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.ValidationResult](t, rec)
		assert.True(t, res.Valid)
		assert.Equal(t, services.MessageValid, res.Message)
	})

	var redemptionID int
	t.Run("redeem returns download link", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/licenses/redeem", map[string]any{
			"keyCode":   key.KeyCode,
			"projectId": project.ID,
			"email":     "visitor@example.com",
		}, func(r *http.Request) {
			r.Header.Set("X-Real-IP", "203.0.113.7")
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.RedeemResult](t, rec)
		require.True(t, res.Success)
		assert.Equal(t, "https://downloads.example.com/portfolio.zip", res.DownloadURL)
		require.NotNil(t, res.Redemption)
		require.NotNil(t, res.Redemption.RedeemedByIP)
		assert.Equal(t, "203.0.113.7", *res.Redemption.RedeemedByIP)
		redemptionID = res.Redemption.ID
	})

	t.Run("second redeem of single use key is rejected", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/licenses/redeem", map[string]any{
			"keyCode":   key.KeyCode,
			"projectId": project.ID,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.RedeemResult](t, rec)
		assert.False(t, res.Success)
		assert.Equal(t, services.ReasonUsageLimitReached, res.Reason)
	})

	t.Run("invalid email is a bad request", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/licenses/redeem", map[string]any{
			"keyCode":   key.KeyCode,
			"projectId": project.ID,
			"email":     "not-an-email",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		res := decode[map[string]any](t, rec)
		assert.Contains(t, res["fields"], "email")
	})

	t.Run("check redemption by email", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/licenses/redemptions/check?projectId="+itoa(project.ID)+"&email=Visitor@Example.com", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.UserRedemptionStatus](t, rec)
		assert.True(t, res.HasRedeemed)
		require.NotNil(t, res.Redemption)
		assert.Equal(t, redemptionID, res.Redemption.ID)

		body := rec.Body.String()
		assert.NotContains(t, body, key.KeyCode)
		assert.NotContains(t, body, "keyCode")
		assert.NotContains(t, body, "203.0.113.7")

		rec = srv.do(t, http.MethodGet, "/api/licenses/redemptions/check", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("track download needs the redeemed key", func(t *testing.T) {
		path := "/api/licenses/redemptions/" + itoa(redemptionID) + "/download"

		tests := []struct {
			name string
			body any
		}{
			{name: "no_body", body: nil},
			{name: "empty_key", body: map[string]string{"keyCode": ""}},
			{name: "unknown_key", body: map[string]string{"keyCode": "PROJ-ZZZZ-ZZZZ-ZZZZ"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := srv.do(t, http.MethodPost, path, tt.body)
				assert.NotEqual(t, http.StatusOK, rec.Code)
				assert.NotContains(t, rec.Body.String(), "portfolio.zip")
			})
		}

		rec := srv.do(t, http.MethodPost, path, map[string]string{"keyCode": "PROJ-ZZZZ-ZZZZ-ZZZZ"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("track download", func(t *testing.T) {
		path := "/api/licenses/redemptions/" + itoa(redemptionID) + "/download"
		rec := srv.do(t, http.MethodPost, path, map[string]string{"keyCode": key.KeyCode})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[services.DownloadResult](t, rec)
		assert.Equal(t, 1, res.DownloadCount)
		assert.Equal(t, "https://downloads.example.com/portfolio.zip", res.DownloadURL)

		rec = srv.do(t, http.MethodPost, "/api/licenses/redemptions/9999/download", map[string]string{"keyCode": key.KeyCode})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = srv.do(t, http.MethodPost, "/api/licenses/redemptions/abc/download", map[string]string{"keyCode": key.KeyCode})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("public project listing hides download links", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/projects", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		projects := decode[[]models.Project](t, rec)
		require.Len(t, projects, 1)
		assert.Empty(t, projects[0].DownloadURL)
	})

	t.Run("metrics count redemption outcomes", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `licensegate_operations_total{operation="redeem",outcome="USAGE_LIMIT_REACHED"} 1`)
		assert.Contains(t, rec.Body.String(), `licensegate_license_keys{active="true",key_type="single_use"} 1`)
	})
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/admin/license-keys", nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code, "setup must come first")

	rec = srv.do(t, http.MethodGet, "/api/auth/check-setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["setupRequired"])

	rec = srv.do(t, http.MethodPost, "/api/auth/setup", map[string]string{
		"username": "admin",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = srv.do(t, http.MethodGet, "/api/admin/license-keys", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	withSession := func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/projects", map[string]string{
		"slug":        "Landing-Page",
		"title":       "Landing Page",
		"downloadUrl": "https://downloads.example.com/landing.zip",
	}, withSession)
	require.Equal(t, http.StatusCreated, rec.Code)
	project := decode[models.Project](t, rec)
	assert.Equal(t, "landing-page", project.Slug)

	rec = srv.do(t, http.MethodPost, "/api/admin/projects", map[string]string{
		"slug":  "landing-page",
		"title": "Again",
	}, withSession)
	assert.Equal(t, http.StatusConflict, rec.Code)

	expires := time.Now().Add(24 * time.Hour).UTC()
	rec = srv.do(t, http.MethodPost, "/api/admin/license-keys", map[string]any{
		"projectId": project.ID,
		"keyType":   "time_limited",
		"expiresAt": expires,
		"quantity":  3,
		"notes":     "conference giveaway",
	}, withSession)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[[]models.LicenseKey](t, rec)
	require.Len(t, created, 3)

	rec = srv.do(t, http.MethodPost, "/api/admin/license-keys", map[string]any{
		"projectId": project.ID,
		"keyType":   "time_limited",
	}, withSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/admin/license-keys", map[string]any{
		"projectId": 4242,
		"keyType":   "single_use",
	}, withSession)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPut, "/api/admin/license-keys/"+itoa(created[0].ID)+"/status",
		map[string]bool{"isActive": false}, withSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.LicenseKey](t, rec).IsActive)

	rec = srv.do(t, http.MethodPut, "/api/admin/license-keys/"+itoa(created[0].ID)+"/status",
		map[string]any{}, withSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// API keys work in place of the session
	rawKey, _, err := srv.auth.CreateAPIKey(t.Context(), "ci")
	require.NoError(t, err)
	withAPIKey := func(r *http.Request) { r.Header.Set("X-API-Key", rawKey) }

	rec = srv.do(t, http.MethodGet, "/api/admin/license-keys?isActive=true&keyType=time_limited", nil, withAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.LicenseKey](t, rec), 2)

	rec = srv.do(t, http.MethodGet, "/api/admin/license-keys?search=giveaway", nil, withAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.LicenseKey](t, rec), 3)

	rec = srv.do(t, http.MethodGet, "/api/admin/license-keys?keyType=bogus", nil, withAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/admin/analytics?projectId="+itoa(project.ID), nil, withAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decode[services.Analytics](t, rec)
	assert.Equal(t, 0, analytics.TotalRedemptions)
	assert.Empty(t, analytics.RecentRedemptions)

	rec = srv.do(t, http.MethodGet, "/api/admin/projects/"+itoa(project.ID), nil, withAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://downloads.example.com/landing.zip", decode[models.Project](t, rec).DownloadURL)

	rec = srv.do(t, http.MethodGet, "/api/admin/license-keys", nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
