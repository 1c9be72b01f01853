package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	apperrors "github.com/stdlens/stdlens/internal/errors"
	"github.com/stdlens/stdlens/internal/observability"
)

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hopHeaders are connection-scoped and never copied from the exporter response.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MetricsHandler serves the exporter's scrape output on the main listener so
// one port exposes the proxy, its health probes and its metrics.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	scrapeURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", exporterPort())
	failure := func(code, msg string, err error) {
		envelope, _ := errors.NewErrorEnvelope(code, msg).WithContext(map[string]interface{}{
			"metrics_url":    scrapeURL,
			"original_error": err.Error(),
		})
		apperrors.RespondWithError(w, r, envelope)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, scrapeURL, nil)
	if err != nil {
		failure("INTERNAL_ERROR", "Unable to construct metrics request", err)
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		failure("EXTERNAL_SERVICE_ERROR", "Prometheus exporter unavailable", err)
		return
	}
	defer resp.Body.Close() // nolint:errcheck // read-only body

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		observability.Current().Warn("Failed to relay metrics response", zap.Error(err))
	}
}

func exporterPort() int {
	if port := observability.GetMetricsPort(); port != 0 {
		return port
	}
	if cfg := config.GetConfig(); cfg != nil && cfg.Metrics.Port > 0 {
		return cfg.Metrics.Port
	}
	return 9090
}
