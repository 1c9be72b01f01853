package metrics

import (
	"time"

	"github.com/stdlens/stdlens/internal/observability"
)

// Server-level metrics following Prometheus conventions
var (
	// Lifecycle operations such as config reload and shutdown steps
	OperationsTotal = "operations_total"

	// Proxy requests currently waiting on the api client
	InflightProxyRequests = "proxy_inflight_requests"

	// Health check metrics
	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"

	ServerStartTime = "server_start_time_seconds"
)

// RecordOperation records a server lifecycle operation with status
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsTotal,
			1,
			map[string]string{
				"operation": operation,
				"status":    status,
			},
		)
	}
}

// SetInflightProxyRequests sets the number of proxy requests being served
func SetInflightProxyRequests(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(InflightProxyRequests, float64(count), nil)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
