package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by RecordMessage
const (
	OutcomeProcessed   = "processed"
	OutcomeCoalesced   = "coalesced"
	OutcomeRateLimited = "rate_limited"
	OutcomeTooSmall    = "too_small"
	OutcomeTooLarge    = "too_large"
	OutcomeCooldown    = "cooldown"
)

// Metrics contains all Prometheus metrics for the transcription gateway
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	CooldownsEntered prometheus.Counter

	// Pipeline metrics
	ProcessingDuration    prometheus.Histogram
	TranscriptionFailures *prometheus.CounterVec
	Corrections           *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_active_sessions",
			Help: "Current number of open socket sessions",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_messages_received_total",
			Help: "Inbound audio messages by admission outcome",
		}, []string{"outcome"}),
		CooldownsEntered: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_cooldowns_entered_total",
			Help: "Number of times a session entered cooldown",
		}),

		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_processing_duration_seconds",
			Help:    "Duration of a full processing cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_failures_total",
			Help: "Failed processing cycles by error kind",
		}, []string{"kind"}),
		Corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_corrections_total",
			Help: "Format correction attempts by result",
		}, []string{"result"}),
	}
}

// SessionOpened increments the active sessions gauge
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active sessions gauge
func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}

// RecordMessage counts an inbound message under outcome
func (m *Metrics) RecordMessage(outcome string) {
	m.MessagesReceived.WithLabelValues(outcome).Inc()
}

// RecordCycle records the duration of a finished processing cycle
func (m *Metrics) RecordCycle(durationSeconds float64) {
	m.ProcessingDuration.Observe(durationSeconds)
}

// RecordFailure counts a failed cycle
func (m *Metrics) RecordFailure(kind string) {
	m.TranscriptionFailures.WithLabelValues(kind).Inc()
}

// RecordCorrection counts a correction attempt
func (m *Metrics) RecordCorrection(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Corrections.WithLabelValues(result).Inc()
}

// RecordCooldown counts a transition into cooldown
func (m *Metrics) RecordCooldown() {
	m.CooldownsEntered.Inc()
}
