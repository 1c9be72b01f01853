package metrics

import (
	"time"

	"github.com/stdlens/stdlens/internal/observability"
)

// API client metrics
var (
	CacheLookupsTotal      = "cache_lookups_total"
	UpstreamAttemptsTotal  = "upstream_attempts_total"
	RetriesTotal           = "retries_total"
	ThrottleWaitMs         = "throttle_wait_ms"
	LogicalRequestsTotal   = "api_requests_total"
	LogicalRequestDuration = "api_request_duration_ms"
	CoalescedRequestsTotal = "coalesced_requests_total"
)

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(CacheLookupsTotal, 1, map[string]string{"result": result})
	}
}

// RecordUpstreamAttempt counts one HTTP attempt by status ("200", "503", "transport_error").
func RecordUpstreamAttempt(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UpstreamAttemptsTotal, 1, map[string]string{"status": status})
	}
}

// RecordRetry counts a scheduled retry.
func RecordRetry(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RetriesTotal, 1, map[string]string{"reason": reason})
	}
}

// RecordThrottleWait records time spent waiting for rate limit credit.
func RecordThrottleWait(wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(ThrottleWaitMs, wait, nil)
	}
}

// RecordCoalesced counts a request served by another caller's in-flight fetch.
func RecordCoalesced() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(CoalescedRequestsTotal, 1, nil)
	}
}

// RecordLogicalRequest records the outcome ("cache_hit", "fetched", "error") and latency of one logical request.
func RecordLogicalRequest(outcome string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(LogicalRequestsTotal, 1, map[string]string{"outcome": outcome})
		_ = observability.TelemetrySystem.Histogram(LogicalRequestDuration, duration, map[string]string{"outcome": outcome})
	}
}
