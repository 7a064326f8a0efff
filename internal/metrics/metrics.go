package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmesh_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	HTTPThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_http_throttled_total",
			Help: "HTTP requests refused by the flood guard",
		},
		[]string{"reason"},
	)

	// Dispatch metrics
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_messages_dispatched_total",
			Help: "Total envelopes accepted and handed to the transport",
		},
		[]string{"channel"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_messages_rejected_total",
			Help: "Total envelopes rejected before delivery",
		},
		[]string{"channel", "reason"}, // "validation", "rate_limited", "delivery"
	)

	RecipientsPerMessage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmesh_recipients_per_message",
			Help:    "Number of eligible recipients per envelope",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"channel"},
	)

	SuspiciousInputs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_suspicious_inputs_total",
			Help: "Envelopes accepted but flagged for monitoring",
		},
		[]string{"channel", "signal"},
	)

	// Routing metrics
	DegradedRoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_degraded_routing_decisions_total",
			Help: "Eligibility decisions taken without live collaborator data",
		},
		[]string{"channel", "decision"}, // "fail_open", "fail_closed", "last_known"
	)

	RoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatmesh_routing_duration_seconds",
			Help:    "Time to compute eligible recipients for one envelope",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// Catalog metrics
	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_catalog_reloads_total",
			Help: "Channel catalog reload attempts",
		},
		[]string{"result"},
	)

	CatalogFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmesh_catalog_fallbacks_total",
			Help: "Lookups served from built-in defaults because the channel was not registered",
		},
		[]string{"channel"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatmesh_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
