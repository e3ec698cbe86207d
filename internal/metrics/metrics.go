// Package metrics provides Prometheus instrumentation for the guardbot
// moderator. It exposes counters for processed events and emitted actions,
// OCR provider outcomes and reward claims, plus gauges and histograms for the
// code pool and processing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound events, labeled by kind: "group" or "private".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_events_total",
		Help: "Total number of inbound chat events processed",
	}, []string{"kind"})

	// ActionsTotal counts emitted directives, labeled by action.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_actions_total",
		Help: "Total number of directives emitted to the transport",
	}, []string{"action"}) // action = "delete_message", "kick_user", "send_reply"

	// DetectionsTotal counts positive classifications.
	DetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_detections_total",
		Help: "Total number of flagged messages by category and marker kind",
	}, []string{"category", "marker"})

	// OCRAttemptsTotal counts provider calls, labeled by provider and outcome.
	OCRAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_ocr_attempts_total",
		Help: "Total number of OCR provider attempts",
	}, []string{"provider", "outcome"}) // outcome = "ok", "timeout", "transport", "rejected", "auth"

	// OCRLatency records per-provider call latency in seconds.
	OCRLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardbot_ocr_latency_seconds",
		Help:    "OCR provider call latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 4, 8, 15},
	}, []string{"provider"})

	// ClaimsTotal counts reward claims by result status.
	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_claims_total",
		Help: "Total number of reward claims by outcome",
	}, []string{"status"})

	// PoolRemaining tracks the number of unissued reward codes.
	PoolRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardbot_reward_pool_remaining",
		Help: "Current number of reward codes left in the pool",
	})

	// KicksTotal counts escalations that ended in a kick directive.
	KicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_kicks_total",
		Help: "Total number of kick escalations by content type",
	}, []string{"content_type"})

	// KeywordReloadsTotal counts keyword reloads, labeled "ok" or "failed".
	KeywordReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_keyword_reloads_total",
		Help: "Total number of keyword configuration reloads",
	}, []string{"result"})

	// EventLatency records end-to-end handling time per event in seconds.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardbot_event_latency_seconds",
		Help:    "Event handling latency in seconds, OCR included",
		Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		ActionsTotal,
		DetectionsTotal,
		OCRAttemptsTotal,
		OCRLatency,
		ClaimsTotal,
		PoolRemaining,
		KicksTotal,
		KeywordReloadsTotal,
		EventLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
