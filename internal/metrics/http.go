package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/stdlens/stdlens/internal/observability"
)

// HTTP server metric names.
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
	ProxyCacheResponses   = "proxy_cache_responses_total"
	ErrorsTotal           = "errors_total"
	PanicsTotal           = "panics_total"
)

// HTTPExchange describes one served request. Route must be a low-cardinality
// pattern, never the raw path.
type HTTPExchange struct {
	Method        string
	Route         string
	Status        int
	Duration      time.Duration
	RequestBytes  int64
	ResponseBytes int64
	// CacheResult is the proxy's X-Cache value, empty for non-proxy routes.
	CacheResult string
}

// RecordHTTPExchange emits the request counter, latency histogram and size
// gauges, plus an error counter for 4xx/5xx and the proxy cache outcome.
func RecordHTTPExchange(ex HTTPExchange) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := strconv.Itoa(ex.Status)
	labels := map[string]string{"method": ex.Method, "endpoint": ex.Route, "status": status}
	sizeLabels := map[string]string{"method": ex.Method, "endpoint": ex.Route}

	_ = observability.TelemetrySystem.Counter(HTTPRequestsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(HTTPRequestDuration, ex.Duration, labels)
	_ = observability.TelemetrySystem.Gauge(HTTPRequestSizeBytes, float64(ex.RequestBytes), sizeLabels)
	_ = observability.TelemetrySystem.Gauge(HTTPResponseSizeBytes, float64(ex.ResponseBytes), sizeLabels)

	if class := statusClass(ex.Status); class != "" {
		_ = observability.TelemetrySystem.Counter(HTTPErrorsTotal, 1, map[string]string{
			"method":     ex.Method,
			"endpoint":   ex.Route,
			"status":     status,
			"error_type": class,
		})
	}

	if ex.CacheResult != "" {
		_ = observability.TelemetrySystem.Counter(ProxyCacheResponses, 1, map[string]string{
			"endpoint": ex.Route,
			"result":   strings.ToLower(ex.CacheResult),
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}

// RecordErrorResponse counts an error envelope written to a client.
func RecordErrorResponse(route, code string, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"error_code": code, "http_status": strconv.Itoa(status)}
	if route != "" {
		labels["endpoint"] = route
	}
	_ = observability.TelemetrySystem.Counter(ErrorsTotal, 1, labels)
}

// RecordPanic counts a recovered handler panic.
func RecordPanic(route string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, map[string]string{"endpoint": route})
	}
}
