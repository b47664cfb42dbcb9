package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	notificationsMerged    *prometheus.CounterVec
	notificationFeedSize   prometheus.Gauge
	chatMessagesReceived   *prometheus.CounterVec
	chatUploadsRejected    *prometheus.CounterVec
	streamClientsActive    *prometheus.GaugeVec
	groupCacheLookupsTotal *prometheus.CounterVec
	rateLimitedTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the local API and services.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_api_requests_total",
			Help: "Total number of local API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyhub_api_latency_seconds",
			Help:    "Latency distribution for local API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_api_errors_total",
			Help: "Total number of error responses returned by the local API.",
		}, []string{"method", "route", "status"})

		notificationsMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_notifications_merged_total",
			Help: "Notifications added to the feed partitioned by source.",
		}, []string{"source"})

		notificationFeedSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studyhub_notification_feed_size",
			Help: "Number of notifications currently held in the feed.",
		})

		chatMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_chat_messages_received_total",
			Help: "Chat messages appended to open sessions partitioned by origin.",
		}, []string{"origin"})

		chatUploadsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_chat_uploads_rejected_total",
			Help: "Attachments refused before upload partitioned by reason.",
		}, []string{"reason"})

		streamClientsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studyhub_stream_clients_active",
			Help: "Presentation-layer stream clients currently attached.",
		}, []string{"stream"})

		groupCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_group_cache_lookups_total",
			Help: "Group list cache lookups partitioned by result.",
		}, []string{"result"})

		rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_rate_limited_total",
			Help: "Requests refused by a local rate limiter partitioned by limiter.",
		}, []string{"limiter"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			notificationsMerged,
			notificationFeedSize,
			chatMessagesReceived,
			chatUploadsRejected,
			streamClientsActive,
			groupCacheLookupsTotal,
			rateLimitedTotal,
		)
	})
}

// APIRequests exposes the counter for local API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for local API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for local API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// NotificationsMerged counts notifications that entered the feed.
func NotificationsMerged() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsMerged
}

// NotificationFeedSize tracks the current feed length.
func NotificationFeedSize() prometheus.Gauge {
	RegisterMetrics()
	return notificationFeedSize
}

// ChatMessagesReceived counts chat messages appended to sessions.
func ChatMessagesReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesReceived
}

// ChatUploadsRejected counts attachments rejected locally.
func ChatUploadsRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return chatUploadsRejected
}

// StreamClientsActive tracks attached SSE and websocket clients.
func StreamClientsActive() *prometheus.GaugeVec {
	RegisterMetrics()
	return streamClientsActive
}

// GroupCacheLookups counts group cache hits and misses.
func GroupCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return groupCacheLookupsTotal
}

// RateLimited counts requests refused by a limiter.
func RateLimited() *prometheus.CounterVec {
	RegisterMetrics()
	return rateLimitedTotal
}
