package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batepapo_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ParticipantsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_participants_registered_total",
			Help: "Total participants registered",
		},
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_messages_posted_total",
			Help: "Total messages stored",
		},
		[]string{"type"}, // "message", "private_message" or "status"
	)

	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_heartbeats_total",
			Help: "Total accepted status heartbeats",
		},
	)

	// Presence sweeper metrics
	SweepTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_sweep_ticks_total",
			Help: "Total presence sweeper ticks",
		},
		[]string{"result"}, // "ok" or "error"
	)

	ParticipantsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batepapo_participants_evicted_total",
			Help: "Total participants removed for inactivity",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batepapo_sweep_duration_seconds",
			Help:    "Presence sweeper tick duration",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batepapo_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
