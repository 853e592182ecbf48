// Package telemetry provides application-level observability for the marketplace.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<SHOP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router, which keeps the scrape path off the public
// ingress and away from the rate-limiting middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Payment attempt counters and amount totals
//   - Provisioning attempt and in-request retry counters
//   - Webhook event counters (by event type and handling result)
//   - Connection status transition counters
//   - Provider health gauge (polled by the health monitor job)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/connections/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as connection IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Payment metrics — recorded by the payment initiator.
//
// PaymentAttemptsTotal is a CounterVec with label {outcome} ("success" or
// "failed"). PaymentSatsTotal counts the sats of successfully settled
// subscription charges.
//
// Example PromQL queries:
//   - Failure ratio: sum(rate(payment_attempts_total{outcome="failed"}[1h])) / sum(rate(payment_attempts_total[1h]))
//   - Settled volume: increase(payment_sats_total[24h])
var (
	PaymentAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Total number of subscription payment attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	PaymentSatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_sats_total",
			Help: "Total sats successfully settled through wallet-relay payments.",
		},
	)
)

// Provisioning metrics — recorded by the connection lifecycle manager.
//
// ProvisioningAttemptsTotal counts every provisionShop call, by outcome.
// ProvisioningRetriesTotal counts only the in-request retries taken after a
// failed first attempt (a useful leading indicator of a flaky provider).
var (
	ProvisioningAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_attempts_total",
			Help: "Total number of store provisioning attempts against provider APIs, by outcome.",
		},
		[]string{"outcome"},
	)

	ProvisioningRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_retries_total",
			Help: "Total number of in-request provisioning retries after a failed attempt.",
		},
	)
)

// Webhook metrics — recorded by the provider webhook ingestor.
//
// WebhookEventsTotal has labels {event, result}. "result" is one of accepted,
// ignored, signature_invalid, malformed. An alert on
// rate(webhook_events_total{result="signature_invalid"}[15m]) > 0 catches
// both misconfigured secrets and spoofing attempts.
var WebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of inbound provider webhook events, by event type and handling result.",
	},
	[]string{"event", "result"},
)

// ConnectionTransitionsTotal counts lifecycle status transitions, by target
// status. The source status is deliberately not a label: transitions are
// driven by last-write-wins semantics and the stored source would be racy.
var ConnectionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "connection_transitions_total",
		Help: "Total number of connection status transitions, by resulting status.",
	},
	[]string{"status"},
)

// ProviderHealthy is a GaugeVec with label {provider_id}: 1 when the last
// health check succeeded, 0 when it failed. Sampled by the provider health
// monitor job.
var ProviderHealthy = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "provider_healthy",
		Help: "Whether the last health check of an infrastructure provider succeeded (1) or failed (0).",
	},
	[]string{"provider_id"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30 seconds
// by StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and exports them as gauges.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			if stats.WaitCount > 0 {
				slog.Debug("db pool contention", "wait_count", stats.WaitCount, "wait_duration", stats.WaitDuration)
			}
		}
	}()
}
