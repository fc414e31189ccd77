// Package metrics provides Prometheus instrumentation for the Toolgate platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsTotal counts payment transactions by final status.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "payments_total",
			Help:      "Total payment transactions by status.",
		},
		[]string{"status"},
	)

	// DepositsTotal counts verified deposits by result.
	DepositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "deposits_total",
			Help:      "Total deposit verification attempts by result.",
		},
		[]string{"result"},
	)

	// ToolInvocationsTotal counts tool invocations by tenant and outcome.
	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations by tenant and outcome.",
		},
		[]string{"tenant", "outcome"},
	)

	// ToolInvocationDuration observes outbound call latency per tenant.
	ToolInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "tool_invocation_duration_seconds",
			Help:      "Outbound tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	// ActiveSessions tracks currently built tenant MCP sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "active_sessions",
			Help:      "Number of currently built tenant MCP sessions.",
		},
	)

	// SettlementDuration observes time from debit to on-chain confirmation.
	SettlementDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "toolgate",
		Name:      "settlement_duration_seconds",
		Help:      "Time from debit to settlement confirmation in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 30, 60, 90, 120, 300},
	})

	// PaymentsExpiredTotal counts pending payments swept to expired.
	PaymentsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "toolgate",
		Name:      "payments_expired_total",
		Help:      "Total pending payments expired by the sweeper.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentsTotal,
		DepositsTotal,
		ToolInvocationsTotal,
		ToolInvocationDuration,
		ActiveSessions,
		SettlementDuration,
		PaymentsExpiredTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
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
