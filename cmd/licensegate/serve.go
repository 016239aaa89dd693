// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/licensegate/internal/api"
	"github.com/autobrr/licensegate/internal/auth"
	"github.com/autobrr/licensegate/internal/config"
	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/metrics"
	"github.com/autobrr/licensegate/internal/models"
	"github.com/autobrr/licensegate/internal/services"
)

const (
	pprofAddr       = ":6060"
	shutdownTimeout = 30 * time.Second
)

type serveOptions struct {
	configDir string
	dataDir   string
	logPath   string
	pprof     bool
}

func RunServeCommand() *cobra.Command {
	var opts serveOptions

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the license API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts)
		},
	}

	command.Flags().StringVar(&opts.configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/licensegate/ or %APPDATA%\\licensegate\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&opts.dataDir, "data-dir", "", "data directory for the sqlite database (default is next to config file)")
	command.Flags().StringVar(&opts.logPath, "log-path", "", "log file path (default is stderr)")
	command.Flags().BoolVar(&opts.pprof, "pprof", false, "enable pprof server on "+pprofAddr)

	return command
}

// loadServeConfig applies CLI overrides on top of the config file. The env
// vars are set too so a config reload keeps the override.
func loadServeConfig(opts serveOptions) (*config.AppConfig, error) {
	cfg, err := config.New(opts.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if opts.dataDir != "" {
		os.Setenv("LICENSEGATE__DATA_DIR", opts.dataDir)
		cfg.SetDataDir(opts.dataDir)
	}
	if opts.logPath != "" {
		os.Setenv("LICENSEGATE__LOG_PATH", opts.logPath)
		cfg.Config.LogPath = opts.logPath
	}
	if opts.pprof {
		cfg.Config.PprofEnabled = true
	}

	return cfg, nil
}

// buildDependencies opens every service the router needs. The returned
// cleanup closes them in reverse order.
func buildDependencies(cfg *config.AppConfig, db *database.DB) (*api.Dependencies, func(), error) {
	projectService, err := services.NewProjectService(db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize project service: %w", err)
	}

	deps := &api.Dependencies{
		Config:         cfg,
		AuthService:    auth.NewService(db, cfg.Config.SessionSecret, cfg.GetEncryptionKey()),
		ProjectService: projectService,
	}

	var keyOpts []services.Option
	if cfg.Config.MetricsEnabled {
		deps.MetricsManager = metrics.NewManager(models.NewLicenseKeyStore(db), models.NewRedemptionStore(db))
		keyOpts = append(keyOpts, services.WithRecorder(deps.MetricsManager))
	}
	deps.LicenseService = services.NewLicenseKeyService(db, projectService, keyOpts...)

	return deps, projectService.Close, nil
}

// mountBaseURL serves router under baseURL and redirects the bare root there
func mountBaseURL(router http.Handler, baseURL string) http.Handler {
	if baseURL == "" || baseURL == "/" {
		return router
	}

	parent := chi.NewRouter()
	parent.Mount(strings.TrimSuffix(baseURL, "/"), router)
	parent.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, baseURL, http.StatusMovedPermanently)
	})

	return parent
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func newHTTPServer(cfg *config.AppConfig, handler http.Handler) *http.Server {
	t := cfg.Config.HTTPTimeouts
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       secondsOr(t.ReadTimeout, 60*time.Second),
		WriteTimeout:      secondsOr(t.WriteTimeout, 120*time.Second),
		IdleTimeout:       secondsOr(t.IdleTimeout, 180*time.Second),
	}
}

func runServer(ctx context.Context, opts serveOptions) error {
	log.Info().Str("version", Version).Msg("Starting licensegate")

	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}
	cfg.ApplyLogConfig()
	cfg.Watch()

	db, err := database.Open(cfg.DatabaseOptions())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	deps, cleanup, err := buildDependencies(cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := newHTTPServer(cfg, mountBaseURL(api.NewRouter(deps), cfg.Config.BaseURL))

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", srv.Addr).
			Str("database", string(db.Driver())).
			Str("baseURL", cfg.Config.BaseURL).
			Bool("metrics", deps.MetricsManager != nil).
			Msg("Starting HTTP server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Str("address", pprofAddr).Msg("Starting pprof server")
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
