// Package metrics provides Prometheus-based metrics recording for the turn
// pipeline and LLM calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records pipeline and LLM metrics. A nil Recorder is a no-op.
type Recorder struct {
	llmRequestsTotal    *prometheus.CounterVec
	llmDuration         *prometheus.HistogramVec
	turnsTotal          *prometheus.CounterVec
	guardrailFailures   *prometheus.CounterVec
	payloadTokens       prometheus.Histogram
	sessionsInitialized prometheus.Counter
}

// NewRecorder registers and returns the metric set. Call at most once per
// process; promauto registers against the default registry.
func NewRecorder() *Recorder {
	return &Recorder{
		llmRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by agent and status",
			},
			[]string{"agent_id", "status"},
		),
		llmDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_id"},
		),
		turnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total number of turns processed by agent and outcome",
			},
			[]string{"agent_id", "outcome"},
		),
		guardrailFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardrail_failures_total",
				Help: "Total number of guardrail rule failures",
			},
			[]string{"rule_id"},
		),
		payloadTokens: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "context_payload_tokens",
				Help:    "Token size of assembled context payloads",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
		sessionsInitialized: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_initialized_total",
				Help: "Total number of sessions created",
			},
		),
	}
}

// ObserveLLMRequest records one completion attempt.
func (r *Recorder) ObserveLLMRequest(agentID string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.llmRequestsTotal.WithLabelValues(agentID, status).Inc()
	r.llmDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// ObserveTurn records a completed turn. outcome is committed, rejected, or
// failed.
func (r *Recorder) ObserveTurn(agentID, outcome string) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(agentID, outcome).Inc()
}

// ObserveGuardrailFailure counts one rule failure.
func (r *Recorder) ObserveGuardrailFailure(ruleID string) {
	if r == nil {
		return
	}
	r.guardrailFailures.WithLabelValues(ruleID).Inc()
}

// ObservePayloadTokens records the size of one assembled payload.
func (r *Recorder) ObservePayloadTokens(tokens int) {
	if r == nil {
		return
	}
	r.payloadTokens.Observe(float64(tokens))
}

// ObserveSessionInitialized counts one new session.
func (r *Recorder) ObserveSessionInitialized() {
	if r == nil {
		return
	}
	r.sessionsInitialized.Inc()
}
