// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stats

import (
	"github.com/pion/abr/pkg/abr"
	"github.com/prometheus/client_golang/prometheus"
)

// Getter returns a snapshot of controller state.
type Getter interface {
	GetStats() abr.Stats
}

// Collector exposes a controller snapshot at scrape time.
type Collector struct {
	getter Getter

	networkType      *prometheus.Desc
	priorityInFlight *prometheus.Desc
	activeRun        *prometheus.Desc
}

// NewCollector returns a Collector reading from getter.
func NewCollector(getter Getter) *Collector {
	return &Collector{
		getter: getter,
		networkType: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "network_info"),
			"Current network type, always 1",
			[]string{"type"}, nil,
		),
		priorityInFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "priority_run_in_flight"),
			"1 while a priority run blocks congestion handling",
			nil, nil,
		),
		activeRun: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_run_info"),
			"Kind of the active sampling run, always 1",
			[]string{"kind", "id"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.networkType
	ch <- c.priorityInFlight
	ch <- c.activeRun
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.getter.GetStats()

	inFlight := 0.0
	if s.PriorityInFlight {
		inFlight = 1
	}
	id := ""
	if s.ActiveRun != abr.RunBackground {
		id = s.ActiveRunID.String()
	}

	ch <- prometheus.MustNewConstMetric(c.networkType, prometheus.GaugeValue, 1, s.NetworkType.String())
	ch <- prometheus.MustNewConstMetric(c.priorityInFlight, prometheus.GaugeValue, inFlight)
	ch <- prometheus.MustNewConstMetric(c.activeRun, prometheus.GaugeValue, 1, s.ActiveRun.String(), id)
}
