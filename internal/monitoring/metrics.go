// Package monitoring exposes prometheus collectors for the attribution
// engine.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LadderMetrics tracks ladder evaluation outcomes.
type LadderMetrics struct {
	// AttemptsTotal counts tier attempts by method and outcome
	// (accepted, inapplicable, below_threshold, error, deadline).
	AttemptsTotal *prometheus.CounterVec
	// WinsTotal counts winning methods.
	WinsTotal *prometheus.CounterVec
	// LadderSeconds observes end-to-end ladder latency.
	LadderSeconds prometheus.Histogram
}

// IngestMetrics tracks postback ingestion outcomes.
type IngestMetrics struct {
	// PostbacksTotal counts ingestion requests by outcome
	// (stored, rejected_signature, rejected_fields, rate_limited).
	PostbacksTotal *prometheus.CounterVec
	// ExpiredSwept counts postback records removed by TTL sweeps.
	ExpiredSwept prometheus.Counter
}

// NewLadderMetrics registers ladder collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewLadderMetrics(reg prometheus.Registerer) *LadderMetrics {
	factory := promauto.With(reg)
	return &LadderMetrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attribution_attempts_total",
			Help: "Tier attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		WinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attribution_wins_total",
			Help: "Winning attribution methods.",
		}, []string{"method"}),
		LadderSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attribution_ladder_seconds",
			Help:    "End-to-end ladder evaluation latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// NewIngestMetrics registers postback ingestion collectors.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	factory := promauto.With(reg)
	return &IngestMetrics{
		PostbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attribution_postbacks_total",
			Help: "Postback ingestion requests by outcome.",
		}, []string{"outcome"}),
		ExpiredSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "attribution_postbacks_swept_total",
			Help: "Postback records removed by TTL sweeps.",
		}),
	}
}
