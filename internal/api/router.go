// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/api/handlers"
	apimiddleware "github.com/autobrr/licensegate/internal/api/middleware"
	"github.com/autobrr/licensegate/internal/auth"
	"github.com/autobrr/licensegate/internal/config"
	"github.com/autobrr/licensegate/internal/metrics"
	"github.com/autobrr/licensegate/internal/services"
	"github.com/autobrr/licensegate/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config         *config.AppConfig
	AuthService    *auth.Service
	ProjectService *services.ProjectService
	LicenseService *services.LicenseKeyService
	MetricsManager *metrics.Manager
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Config.RequestTimeout()))

	authHandler := handlers.NewAuthHandler(deps.AuthService)
	licenseHandler := handlers.NewLicenseHandler(deps.LicenseService)
	projectHandler := handlers.NewProjectHandler(deps.ProjectService)
	adminKeyHandler := handlers.NewAdminKeyHandler(deps.LicenseService)

	cfg := deps.Config.Config
	publicLimit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.Enabled {
		publicLimit = apimiddleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Handler
	}

	r.Route("/api", func(r chi.Router) {
		// Public license endpoints, available before setup
		r.Group(func(r chi.Router) {
			r.Use(publicLimit)

			r.Route("/licenses", func(r chi.Router) {
				r.Post("/validate", licenseHandler.Validate)
				r.Post("/redeem", licenseHandler.Redeem)
				r.Get("/redemptions/check", licenseHandler.CheckRedemption)
				r.Post("/redemptions/{redemptionID}/download", licenseHandler.TrackDownload)
			})
			r.Get("/projects", projectHandler.ListPublic)
		})

		r.Get("/auth/check-setup", authHandler.CheckSetupRequired)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireSetup(deps.AuthService))

			r.With(publicLimit).Post("/auth/setup", authHandler.Setup)
			r.With(publicLimit).Post("/auth/login", authHandler.Login)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(apimiddleware.IsAuthenticated(deps.AuthService))

				r.Post("/auth/logout", authHandler.Logout)
				r.Get("/auth/me", authHandler.GetCurrentUser)
				r.Put("/auth/change-password", authHandler.ChangePassword)

				r.Route("/api-keys", func(r chi.Router) {
					r.Get("/", authHandler.ListAPIKeys)
					r.Post("/", authHandler.CreateAPIKey)
					r.Delete("/{id}", authHandler.DeleteAPIKey)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Route("/projects", func(r chi.Router) {
						r.Get("/", projectHandler.List)
						r.Post("/", projectHandler.Create)
						r.Get("/{projectID}", projectHandler.Get)
						r.Put("/{projectID}", projectHandler.Update)
					})

					r.Route("/license-keys", func(r chi.Router) {
						r.Get("/", adminKeyHandler.List)
						r.Post("/", adminKeyHandler.Create)
						r.Put("/{keyID}/status", adminKeyHandler.UpdateStatus)
					})

					r.Get("/analytics", adminKeyHandler.Analytics)
				})
			})
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.MetricsEnabled && deps.MetricsManager != nil {
		metricsHandler := handlers.NewMetricsHandler(deps.MetricsManager)
		r.Get("/metrics", metricsHandler.ServeMetrics)
	}

	swaggerHandler, err := swagger.NewHandler(cfg.BaseURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load OpenAPI spec")
	} else if swaggerHandler != nil {
		swaggerHandler.RegisterRoutes(r)
	}

	return r
}
