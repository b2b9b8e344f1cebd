package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Connection gateway metrics
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of open real-time connections",
		},
		[]string{"transport"},
	)

	CommunityMembersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "community_members_active",
			Help: "Number of connections joined to a community room",
		},
		[]string{"community_id"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_delivered_total",
			Help: "Total number of outbound events queued for connections",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Outbound events dropped because a connection's buffer was full",
		},
		[]string{"kind"},
	)

	// Ingest pipeline metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ingest_total",
			Help: "Send requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	IngestStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ingest_stage_duration_seconds",
			Help:    "Time spent in each ingest stage",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"stage"},
	)

	BackplanePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_backplane_messages_total",
			Help: "Messages exchanged with the broadcast broker",
		},
		[]string{"direction", "status"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)
)
