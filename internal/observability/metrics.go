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

	APIValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_openapi_validation_failures_total",
			Help: "Requests and responses that did not match the API document",
		},
		[]string{"direction"},
	)

	// Port metrics
	PortsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallet_ports_active",
			Help: "Number of registered ports by kind",
		},
		[]string{"kind"},
	)

	PortMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_port_messages_sent_total",
			Help: "Total number of messages sent to ports",
		},
		[]string{"kind", "type"},
	)

	PortsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_ports_removed_total",
			Help: "Ports removed from the registry by reason",
		},
		[]string{"kind", "reason"},
	)

	// RPC routing metrics
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_rpc_requests_total",
			Help: "RPC requests handled by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_backend_request_duration_seconds",
			Help:    "RPC backend latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	SimulationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_simulation_cache_total",
			Help: "Simulation cache lookups by result",
		},
		[]string{"result"},
	)

	PendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallet_pending_approvals",
			Help: "Number of requests waiting for user approval",
		},
	)

	// Session metrics
	SessionValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_session_validations_total",
			Help: "Session token validations by result",
		},
		[]string{"result"},
	)

	BlacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallet_session_blacklist_size",
			Help: "Number of revoked token hashes retained",
		},
	)

	// Idle lock metrics
	IdleTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_idle_transitions_total",
			Help: "Idle state machine transitions by target state",
		},
		[]string{"state"},
	)

	// Messaging metrics
	ActivityPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_activity_published_total",
			Help: "Dapp activity events published by result",
		},
		[]string{"result"},
	)

	ActivityAuditedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_activity_audited_total",
			Help: "Activity events drained from the audit queue by result",
		},
		[]string{"result"},
	)
)
