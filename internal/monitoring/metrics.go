package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"server", "method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolproxy_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"server", "method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolproxy_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Upstream forward metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_upstream_requests_total",
			Help: "Total number of upstream forward attempts by outcome",
		},
		[]string{"kind"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolproxy_upstream_time_to_headers_seconds",
			Help:    "Time until upstream response headers arrive",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status_class"},
	)

	UpstreamModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_upstream_model_requests_total",
			Help: "Total number of upstream attempts by model",
		},
		[]string{"model", "status_class"},
	)

	HandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_handler_panics_total",
			Help: "Handler panics caught by the recovery middleware",
		},
		[]string{"kind"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_dispatch_outcomes_total",
			Help: "Terminal outcome of each dispatched request",
		},
		[]string{"outcome"},
	)

	// Pool state metrics
	CredentialSelectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolproxy_credential_selections_total",
			Help: "Total number of successful credential selections",
		},
	)

	CredentialTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_credential_transitions_total",
			Help: "Credential status transitions and cooldowns",
		},
		[]string{"transition"},
	)

	CredentialsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolproxy_credentials",
			Help: "Number of credentials by status",
		},
		[]string{"status"},
	)

	CredentialsCoolingDown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolproxy_credentials_cooling_down",
			Help: "Number of credentials with an outstanding cooldown",
		},
	)

	ModelPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolproxy_model_pool_size",
			Help: "Number of models eligible for rotation",
		},
	)

	ModelEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolproxy_model_evictions_total",
			Help: "Total number of models removed after model_not_found",
		},
	)

	AccessKeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolproxy_access_keys",
			Help: "Number of configured proxy access keys",
		},
	)

	// Persistence metrics
	FlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_flush_total",
			Help: "Write-back flush runs by result",
		},
		[]string{"result"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolproxy_flush_duration_seconds",
			Help:    "Write-back flush duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	FlushedEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_flushed_entities_total",
			Help: "Entities written by the write-back flusher",
		},
		[]string{"source"},
	)

	ConfigCASAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_config_cas_attempts_total",
			Help: "Compare-and-swap attempts on shared configuration",
		},
		[]string{"result"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_storage_operations_total",
			Help: "Storage backend operations",
		},
		[]string{"backend", "operation", "result"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolproxy_storage_operation_duration_seconds",
			Help:    "Storage backend operation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 1},
		},
		[]string{"backend", "operation"},
	)

	// Catalog metrics
	CatalogFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_catalog_fetch_total",
			Help: "Upstream model catalog fetches by result",
		},
		[]string{"result"},
	)

	CatalogCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolproxy_catalog_cache_hits_total",
			Help: "Catalog reads served from the cached snapshot",
		},
	)

	// Rate limiter
	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolproxy_ratelimit_keys",
			Help: "Current number of per-key rate limiters",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poolproxy_ratelimit_sweeps_total",
			Help: "Total number of rate limiter TTL cache sweeps",
		},
	)

	ManagementAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolproxy_management_access_total",
			Help: "Management API access attempts by result",
		},
		[]string{"result"},
	)
)

// StatusClass buckets an HTTP status into 2xx/4xx/5xx style labels.
func StatusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
