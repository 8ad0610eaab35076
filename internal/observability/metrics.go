package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "admissions_total", Help: "Connection admissions by outcome"}, []string{"actor_type", "outcome"})
	ForcedEvictions     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "forced_evictions_total", Help: "Stale connections force-disconnected during admission"})
	AssignmentsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "assignments_total", Help: "Successful driver assignments"})
	NoDriverTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "no_suitable_driver_total", Help: "Assignment attempts with no eligible candidate"})
	NotificationsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_total", Help: "Tracking payload deliveries attempted"})
	NotificationsMerged = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "notifications_merged_total", Help: "NotifyOnce calls that no-opped on a held per-order lock"})
	EmptyRoomRetries    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "empty_room_retries_total", Help: "Delivery retries against momentarily empty rooms"})
	WageLookupFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "wage_lookup_failures_total", Help: "Wage computations that returned unavailable"})
	OrderEventsOut      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "order_dispatch", Name: "order_events_published_total", Help: "Order status events published to the stream"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "order_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "order_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
