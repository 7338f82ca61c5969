package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_ratelimit_decisions_total",
			Help: "Rate limiter decisions by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	RateLimitWindows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meter_ratelimit_windows",
			Help: "Number of live fixed windows held by the in-process store.",
		},
	)

	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_scans_total",
			Help: "Scan quota decisions by scan type and outcome.",
		},
		[]string{"scan_type", "outcome"},
	)

	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_api_calls_total",
			Help: "Metered API calls by the bucket they were charged to.",
		},
		[]string{"bucket"},
	)

	WalletTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_wallet_transactions_total",
			Help: "Token wallet transactions by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	AuditDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_audit_dropped_total",
			Help: "Audit records dropped because the write path failed or was full.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitDecisionsTotal,
		RateLimitWindows,
		ScansTotal,
		APICallsTotal,
		WalletTransactionsTotal,
		AuditDroppedTotal,
	)
}
