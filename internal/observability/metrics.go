package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mooveit"

var (
	AcceptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_accept_attempts_total", Help: "Ride accept attempts by outcome"},
		[]string{"outcome"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Applied ride status transitions"},
		[]string{"from", "to"},
	)
	RealtimePublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_publishes_total", Help: "Events published per topic kind"},
		[]string{"topic"},
	)
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_subscribers", Help: "Currently connected realtime subscribers"},
	)
	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_dropped_subscribers_total", Help: "Subscribers dropped for falling behind"},
	)
	EventLogFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "event_sink_failures_total", Help: "Failed writes to downstream event sinks"},
		[]string{"sink"},
	)
	AvailabilityToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "driver_availability_toggles_total", Help: "Driver availability changes by new state"},
		[]string{"available"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
