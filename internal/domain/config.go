// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Host           string         `toml:"host" mapstructure:"host"`
	Port           int            `toml:"port" mapstructure:"port"`
	BaseURL        string         `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret  string         `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel       string         `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string         `toml:"logPath" mapstructure:"logPath"`
	DataDir        string         `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool           `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	PprofEnabled   bool           `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	RequestTimeout int            `toml:"requestTimeout" mapstructure:"requestTimeout"` // seconds
	HTTPTimeouts   HTTPTimeouts   `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
	Database       DatabaseConfig `toml:"database" mapstructure:"database"`
	RateLimit      RateLimit      `toml:"rateLimit" mapstructure:"rateLimit"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// DatabaseConfig selects the store. DSN is only read for postgres.
type DatabaseConfig struct {
	Driver string `toml:"driver" mapstructure:"driver"`
	DSN    string `toml:"dsn" mapstructure:"dsn"`
}

// RateLimit throttles the public license endpoints per client IP
type RateLimit struct {
	Enabled           bool    `toml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `toml:"requestsPerSecond" mapstructure:"requestsPerSecond"`
	Burst             int     `toml:"burst" mapstructure:"burst"`
}
