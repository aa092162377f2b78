// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// IntentsTotal counts classifier decisions.
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intent_classifications_total",
			Help: "Chat requests by resolved intent and matching rule",
		},
		[]string{"intent", "rule"},
	)

	// AugmentDuration tracks real-time data lookups.
	AugmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "augment_duration_seconds",
			Help:    "Augmentation lookup duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"intent", "status"},
	)

	// AugmentCacheHits counts augmentation results served from cache.
	AugmentCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augment_cache_hits_total",
			Help: "Augmentation results served from cache",
		},
		[]string{"intent"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id"},
	)

	// TurnsTotal tracks persisted turns.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Total turns persisted",
		},
		[]string{"role"},
	)

	// StreamDeltasTotal counts deltas applied to stream sessions.
	StreamDeltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_deltas_total",
			Help: "Deltas appended to stream session buffers",
		},
	)

	// StreamPushesTotal counts reconciliation pushes by kind.
	StreamPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_pushes_total",
			Help: "Reconciliation pushes applied to a thread",
		},
		[]string{"kind"},
	)

	// StreamSessionsTotal counts stream sessions by terminal state.
	StreamSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_sessions_total",
			Help: "Stream sessions by terminal state",
		},
		[]string{"state"},
	)

	// DecodeAnomaliesTotal counts data payloads that could not be recovered.
	DecodeAnomaliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_decode_anomalies_total",
			Help: "Malformed data payloads dropped after reassembly failed",
		},
	)

	// QuotaRejectionsTotal counts requests refused for exhausted credits.
	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Requests rejected because the daily quota is exhausted",
		},
	)

	// RateLimitedTotal counts requests refused by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordAugment records an augmentation lookup.
func RecordAugment(intent, status string, duration float64) {
	AugmentDuration.WithLabelValues(intent, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
