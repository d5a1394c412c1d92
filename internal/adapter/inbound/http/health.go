package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	domainaudit "github.com/governed/governor/internal/domain/audit"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports the engine's status and the audit log's chain
// head; it does not verify the audit chain.
type HealthChecker struct {
	status  func() (enabled bool, policyCount int, auditEnabled bool)
	audit   domainaudit.Store
	version string
}

// NewHealthChecker creates a HealthChecker. statusFn typically wraps
// (*service.Engine).GetStatus; audit may be nil when audit logging is
// disabled.
func NewHealthChecker(statusFn func() (enabled bool, policyCount int, auditEnabled bool), audit domainaudit.Store, version string) *HealthChecker {
	return &HealthChecker{status: statusFn, audit: audit, version: version}
}

// Check performs health checks on every wired component.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.status != nil {
		enabled, policyCount, auditEnabled := h.status()
		checks["engine"] = fmt.Sprintf("enabled=%t policies=%d audit=%t", enabled, policyCount, auditEnabled)
	} else {
		checks["engine"] = "not configured"
		healthy = false
	}

	if h.audit != nil {
		head := h.audit.Head()
		checks["audit"] = fmt.Sprintf("ok: seq=%d", head.Seq)
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
