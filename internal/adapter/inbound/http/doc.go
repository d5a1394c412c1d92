// Package http provides the admin HTTP surface for a host process running
// the engine as a long-lived service (the `governor serve` command):
// Prometheus metrics exposition and a liveness/readiness health endpoint.
//
// This is not a request-proxying transport. The engine never sits on the
// network path of the actions it governs; a host calls Evaluate in-process
// or adapts its own hook transport (see internal/adapter/inbound/hook).
// The surface here exists only so an operator can scrape metrics and point
// a process supervisor's health check at something.
//
// # Endpoints
//
//	GET /metrics - Prometheus exposition format
//	GET /health  - JSON health response, 200 when healthy, 503 otherwise
//
// # Health checks
//
// Check returns an engine entry (enabled flag, policy count, audit flag),
// an audit entry with the chain head's sequence number, and the current
// goroutine count. It does not verify the audit hash chain. The response
// is unhealthy only when no engine status function was supplied; a nil
// audit store is reported as "not configured" without affecting health.
package http
