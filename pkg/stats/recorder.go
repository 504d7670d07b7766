// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package stats exports bitrate controller activity as Prometheus metrics.
package stats

import (
	"github.com/pion/abr/pkg/abr"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "abr"

// Recorder is an abr.Observer that records controller decisions.
type Recorder struct {
	bitrateUpdates     *prometheus.CounterVec
	targetBitrate      prometheus.Gauge
	estimatedBitrate   prometheus.Gauge
	runsStarted        *prometheus.CounterVec
	congestionRejected *prometheus.CounterVec
	loweringFactor     prometheus.Gauge
}

// NewRecorder creates a Recorder and registers its metrics with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		bitrateUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bitrate_updates_total",
				Help:      "Total number of emitted bitrate updates",
			},
			[]string{"reason"},
		),
		targetBitrate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "target_bitrate_bps",
				Help:      "Last emitted target bitrate in bits per second",
			},
		),
		estimatedBitrate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "estimated_bitrate_bps",
				Help:      "Latest background throughput estimate in bits per second",
			},
		),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of started sampling runs",
			},
			[]string{"kind"},
		),
		congestionRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "congestion_rejected_total",
				Help:      "Total number of congestion signals that did not start a run",
			},
			[]string{"reason"},
		),
		loweringFactor: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lowering_factor",
				Help:      "Factor applied to congestion run results",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		r.bitrateUpdates,
		r.targetBitrate,
		r.estimatedBitrate,
		r.runsStarted,
		r.congestionRejected,
		r.loweringFactor,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// OnBitrateUpdate implements abr.Observer.
func (r *Recorder) OnBitrateUpdate(reason abr.UpdateReason, bitrate int) {
	r.bitrateUpdates.WithLabelValues(reason.String()).Inc()
	r.targetBitrate.Set(float64(bitrate))
}

// OnRunStarted implements abr.Observer.
func (r *Recorder) OnRunStarted(kind abr.RunKind) {
	r.runsStarted.WithLabelValues(kind.String()).Inc()
}

// OnCongestionRejected implements abr.Observer.
func (r *Recorder) OnCongestionRejected(reason abr.RejectReason) {
	r.congestionRejected.WithLabelValues(reason.String()).Inc()
}

// OnEstimate implements abr.Observer.
func (r *Recorder) OnEstimate(bitrate float64) {
	r.estimatedBitrate.Set(bitrate)
}

// OnLoweringFactor implements abr.Observer.
func (r *Recorder) OnLoweringFactor(factor float64) {
	r.loweringFactor.Set(factor)
}
