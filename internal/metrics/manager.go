// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry         *prometheus.Registry
	licenseCollector *LicenseCollector
	outcomes         *prometheus.CounterVec
}

func NewManager(keys KeyCounter, redemptions RedemptionCounter) *Manager {
	registry := prometheus.NewRegistry()

	licenseCollector := NewLicenseCollector(keys, redemptions)
	registry.MustRegister(licenseCollector)

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensegate_operations_total",
			Help: "License operations by outcome; outcome is ok, error or a rejection reason",
		},
		[]string{"operation", "outcome"},
	)
	registry.MustRegister(outcomes)

	log.Info().Msg("Metrics manager initialized with license collector")

	return &Manager{
		registry:         registry,
		licenseCollector: licenseCollector,
		outcomes:         outcomes,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordOutcome counts one finished validate, redeem or issue call
func (m *Manager) RecordOutcome(operation, outcome string) {
	m.outcomes.WithLabelValues(operation, outcome).Inc()
}
