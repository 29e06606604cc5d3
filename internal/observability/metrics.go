package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	chatConnectionsActive prometheus.Gauge
	chatMessagesSent      *prometheus.CounterVec
	chatModerationActions *prometheus.CounterVec
	chatRateLimitRejects  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of live chat websocket connections.",
		})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total chat messages stored, by visibility.",
		}, []string{"kind"})

		chatModerationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_moderation_actions_total",
			Help: "Moderation actions taken, by action.",
		}, []string{"action"})

		chatRateLimitRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rate_limit_rejections_total",
			Help: "Actions rejected by the chat rate limiter, by action kind.",
		}, []string{"action"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			chatConnectionsActive,
			chatMessagesSent,
			chatModerationActions,
			chatRateLimitRejects,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// ChatConnectionsActive exposes the live connection gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the stored-message counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// ChatModerationActions exposes the moderation action counter.
func ChatModerationActions() *prometheus.CounterVec {
	RegisterMetrics()
	return chatModerationActions
}

// ChatRateLimitRejections exposes the rate-limit rejection counter.
func ChatRateLimitRejections() *prometheus.CounterVec {
	RegisterMetrics()
	return chatRateLimitRejects
}
