package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/stdlens/stdlens/internal/metrics"
)

// Check results reported per registered checker.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components.
// The api client and the response store both implement it.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// runHealthChecks executes all registered health checks in name order
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = statusTimeout
			continue
		}
		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))
		switch {
		case err == nil:
			checks[name] = statusHealthy
		case stderrors.Is(err, context.DeadlineExceeded):
			// a slow dependency degrades the service rather than failing it
			checks[name] = statusTimeout
		default:
			checks[name] = statusUnhealthy
		}
	}
	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == statusUnhealthy {
			return statusUnhealthy
		}
		if status == statusDegraded || status == statusTimeout {
			degraded = true
		}
	}
	if degraded {
		return statusDegraded
	}
	return statusHealthy
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.probe(w, r, "", 5*time.Second)
	if !ok {
		return
	}
	writeJSON(w, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler indicates if the application is running
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "live", 2*time.Second)
}

// ReadinessHandler indicates if the application is ready to serve traffic
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "ready", 5*time.Second)
}

// StartupHandler indicates if the application has completed initialization
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probeHandler(w http.ResponseWriter, r *http.Request, probe string, timeout time.Duration) {
	status, _, ok := hm.probe(w, r, probe, timeout)
	if !ok {
		return
	}
	writeJSON(w, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

// probe runs the checks and writes the error response itself when the result is unhealthy.
func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, probe string, timeout time.Duration) (string, map[string]string, bool) {
	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := hm.determineOverallStatus(checks)
	if status != statusUnhealthy {
		return status, checks, true
	}

	name := probe
	if name == "" {
		name = "aggregate health check"
	} else {
		name += " probe"
	}
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", name+" failed")
	respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
	return status, checks, false
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != statusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"unhealthy_checks": unhealthy,
		})
	}
	return envelope
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// Global health manager instance
var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) *HealthManager {
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobal(probe string, handle func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			handle(globalHealthManager, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

// Handlers bound to the global manager.
var (
	HealthHandler    = withGlobal("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobal("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobal("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobal("startup", (*HealthManager).StartupHandler)
)
