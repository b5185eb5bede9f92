package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total rides created"})

	ClaimsWon  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claims_won_total", Help: "Successful ride claims"})
	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claims_lost_total", Help: "Claims that lost the race for a ride"})

	PaymentSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "payment_sessions_total", Help: "Payment session creation attempts"},
		[]string{"result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "events_published_total", Help: "Events published to the broadcaster"},
		[]string{"kind"},
	)
	EventsDelivered    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "events_delivered_total", Help: "Events delivered to local subscribers"})
	EventsDropped      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "events_dropped_total", Help: "Events dropped for slow subscribers"})
	GroupSubscriptions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "group_subscriptions_total", Help: "Group subscribe operations"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "ws_connections", Help: "Currently open websocket connections"})

	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Driver location updates processed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
