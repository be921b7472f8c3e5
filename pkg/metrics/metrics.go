// Package metrics provides Prometheus metrics for the signal pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics collects and exposes pipeline-stage Prometheus metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	QuotesIngested *prometheus.CounterVec
	FeedReconnects prometheus.Counter

	// Detection metrics
	MovementEvents   *prometheus.CounterVec
	SignalsTotal     *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	GateRejections   *prometheus.CounterVec
	SignalConfidence prometheus.Histogram

	// Resolution metrics
	ResolutionsTotal     *prometheus.CounterVec
	ResolutionConfidence prometheus.Histogram

	// Execution metrics
	DecisionsTotal *prometheus.CounterVec
	NetEdge        prometheus.Histogram

	// Selection metrics
	BetsRecommended     prometheus.Counter
	SelectionRejections *prometheus.CounterVec

	// Cycle metrics
	CycleRuns     *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
}

// NewPipelineMetrics creates a new pipeline metrics collector.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	pm := &PipelineMetrics{
		registry: registry,

		QuotesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_quotes_ingested_total",
				Help: "Total quotes ingested from the feed",
			},
			[]string{"source", "sharp"},
		),
		FeedReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linesignal_feed_reconnects_total",
				Help: "Total feed reconnection attempts",
			},
		),

		MovementEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_movement_events_total",
				Help: "Total movement events detected",
			},
			[]string{"direction"},
		),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_signals_total",
				Help: "Total candidate signals by builder action",
			},
			[]string{"action"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_state_transitions_total",
				Help: "Total quality-gate state transitions",
			},
			[]string{"from", "to"},
		),
		GateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_gate_rejections_total",
				Help: "Total hard rejections by reason",
			},
			[]string{"reason"},
		),
		SignalConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linesignal_signal_confidence",
				Help:    "Candidate confidence score (0-100)",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_resolutions_total",
				Help: "Total instrument resolutions by winning extractor",
			},
			[]string{"source", "tradeable"},
		),
		ResolutionConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linesignal_resolution_confidence",
				Help:    "Resolution confidence (0-100)",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_decisions_total",
				Help: "Total execution decisions by grade",
			},
			[]string{"decision", "liquidity_tier"},
		),
		NetEdge: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linesignal_net_edge",
				Help:    "Net edge after estimated costs",
				Buckets: []float64{-0.05, -0.02, -0.01, 0, 0.01, 0.02, 0.04, 0.06, 0.10},
			},
		),

		BetsRecommended: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linesignal_bets_recommended_total",
				Help: "Total recommended bets written",
			},
		),
		SelectionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_selection_rejections_total",
				Help: "Total portfolio-selection rejections by cap",
			},
			[]string{"cap"},
		),

		CycleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linesignal_cycle_runs_total",
				Help: "Total pipeline cycle runs",
			},
			[]string{"cycle", "status"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linesignal_cycle_duration_seconds",
				Help:    "Pipeline cycle duration",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"cycle"},
		),
	}

	pm.registerAll()
	return pm
}

func (pm *PipelineMetrics) registerAll() {
	pm.registry.MustRegister(
		pm.QuotesIngested,
		pm.FeedReconnects,
		pm.MovementEvents,
		pm.SignalsTotal,
		pm.StateTransitions,
		pm.GateRejections,
		pm.SignalConfidence,
		pm.ResolutionsTotal,
		pm.ResolutionConfidence,
		pm.DecisionsTotal,
		pm.NetEdge,
		pm.BetsRecommended,
		pm.SelectionRejections,
		pm.CycleRuns,
		pm.CycleDuration,
	)
}

// Registry returns the prometheus registry.
func (pm *PipelineMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// RecordQuote records one ingested quote.
func (pm *PipelineMetrics) RecordQuote(source string, sharp bool) {
	pm.QuotesIngested.WithLabelValues(source, strconv.FormatBool(sharp)).Inc()
}

// RecordMovement records one detected movement event.
func (pm *PipelineMetrics) RecordMovement(direction string) {
	pm.MovementEvents.WithLabelValues(direction).Inc()
}

// RecordTransition records one quality-gate state change.
func (pm *PipelineMetrics) RecordTransition(from, to string) {
	pm.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordResolution records one instrument resolution outcome.
func (pm *PipelineMetrics) RecordResolution(source string, tradeable bool, confidence float64) {
	pm.ResolutionsTotal.WithLabelValues(source, strconv.FormatBool(tradeable)).Inc()
	pm.ResolutionConfidence.Observe(confidence)
}

// RecordDecision records one execution decision.
func (pm *PipelineMetrics) RecordDecision(decision, tier string, netEdge float64) {
	pm.DecisionsTotal.WithLabelValues(decision, tier).Inc()
	pm.NetEdge.Observe(netEdge)
}

// RecordCycle records one pipeline cycle run.
func (pm *PipelineMetrics) RecordCycle(cycle, status string, seconds float64) {
	pm.CycleRuns.WithLabelValues(cycle, status).Inc()
	pm.CycleDuration.WithLabelValues(cycle).Observe(seconds)
}
