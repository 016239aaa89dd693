// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/models"
)

const collectTimeout = 10 * time.Second

// KeyCounter reports the key inventory grouped by type and active flag
type KeyCounter interface {
	CountByType(ctx context.Context) ([]models.KeyTypeCount, error)
}

// RedemptionCounter reports redemptions and downloads grouped by key type
type RedemptionCounter interface {
	CountByType(ctx context.Context) ([]models.RedemptionTypeCount, error)
}

// LicenseCollector reads key and redemption totals from the store on each scrape
type LicenseCollector struct {
	keys        KeyCounter
	redemptions RedemptionCounter

	keysDesc         *prometheus.Desc
	redemptionsDesc  *prometheus.Desc
	downloadsDesc    *prometheus.Desc
	scrapeErrorsDesc *prometheus.Desc
}

func NewLicenseCollector(keys KeyCounter, redemptions RedemptionCounter) *LicenseCollector {
	return &LicenseCollector{
		keys:        keys,
		redemptions: redemptions,

		keysDesc: prometheus.NewDesc(
			"licensegate_license_keys",
			"Number of license keys by type and active state",
			[]string{"key_type", "active"},
			nil,
		),
		redemptionsDesc: prometheus.NewDesc(
			"licensegate_redemptions",
			"Number of recorded redemptions by key type",
			[]string{"key_type"},
			nil,
		),
		downloadsDesc: prometheus.NewDesc(
			"licensegate_downloads",
			"Number of tracked downloads by key type",
			[]string{"key_type"},
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"licensegate_scrape_errors",
			"Store queries that failed during this scrape",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keysDesc
	ch <- c.redemptionsDesc
	ch <- c.downloadsDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) reportError(ch chan<- prometheus.Metric, errorType string) {
	ch <- prometheus.MustNewConstMetric(
		c.scrapeErrorsDesc,
		prometheus.GaugeValue,
		1,
		errorType,
	)
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	if c.keys != nil {
		counts, err := c.keys.CountByType(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count license keys for metrics")
			c.reportError(ch, "license_keys")
		}
		for _, count := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.keysDesc,
				prometheus.GaugeValue,
				float64(count.Count),
				count.KeyType.String(),
				strconv.FormatBool(count.Active),
			)
		}
	}

	if c.redemptions != nil {
		counts, err := c.redemptions.CountByType(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count redemptions for metrics")
			c.reportError(ch, "redemptions")
		}
		for _, count := range counts {
			ch <- prometheus.MustNewConstMetric(
				c.redemptionsDesc,
				prometheus.GaugeValue,
				float64(count.Redemptions),
				count.KeyType,
			)
			ch <- prometheus.MustNewConstMetric(
				c.downloadsDesc,
				prometheus.GaugeValue,
				float64(count.Downloads),
				count.KeyType,
			)
		}
	}
}
