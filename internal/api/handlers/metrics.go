// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/metrics"
)

// MetricsHandler exposes the license registry in Prometheus text format
type MetricsHandler struct {
	handler http.Handler
}

// promLogger adapts zerolog to promhttp's error logger
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	log.Error().Msg("metrics: " + fmt.Sprint(v...))
}

func NewMetricsHandler(manager *metrics.Manager) *MetricsHandler {
	registry := manager.GetRegistry()

	handler := promhttp.InstrumentMetricHandler(registry, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			ErrorLog:          promLogger{},
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		},
	))

	return &MetricsHandler{handler: handler}
}

func (h *MetricsHandler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}
