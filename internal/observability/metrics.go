package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// defaultMetricsPort is reported when the exporter address cannot be resolved.
const defaultMetricsPort = 9090

var (
	// TelemetrySystem receives every counter, gauge and histogram; nil disables metrics.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the collected metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free port) and
// routes TelemetrySystem into it. Metric names are prefixed with namespace,
// or with serviceName when no namespace is given.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	if port < 0 {
		port = 0
	}
	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	bound, err := portOf(exporter.GetAddr())
	switch {
	case err == nil:
		metricsPort = bound
	case port == 0:
		metricsPort = defaultMetricsPort
	default:
		metricsPort = port
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the exporter actually bound.
func GetMetricsPort() int {
	return metricsPort
}

func portOf(addr string) (int, error) {
	_, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}
