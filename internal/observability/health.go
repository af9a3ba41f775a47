package observability

import (
	"context"
	"log/slog"
	"time"
)

// readinessTimeout bounds a full readiness sweep; a hung agent record store
// or registry file must not wedge the probe itself.
const readinessTimeout = 3 * time.Second

// HealthChecker aggregates readiness across Sauti's dependencies — the agent
// record store, the binding registry, whatever else a deployment wires in.
// Liveness is unconditional: a running process is live even when every
// dependency is down.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency probe. The check must respect the
// context deadline; slow dependencies report as failed, not as hanging.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error message on failure.
	LatencyMS int64  `json:"latency_ms"`        // Probe duration in milliseconds.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency probe.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady probes every registered dependency and returns the aggregate:
// "ok" only when all pass, "degraded" when any fail. A deployment with no
// checks registered is trivially ready.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for _, c := range h.checks {
		result := h.runCheck(checkCtx, c)
		if result.Status == "fail" {
			status.Status = "degraded"
		}
		status.Checks[c.Name] = result
	}
	return status
}

// runCheck executes one probe and records how long the dependency took to
// answer, so a degrading store shows up in latency before it fails outright.
func (h *HealthChecker) runCheck(ctx context.Context, c HealthCheck) CheckResult {
	start := time.Now()
	err := c.Check(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		if h.logger != nil {
			h.logger.Warn("dependency readiness check failed",
				slog.String("check", c.Name),
				slog.Int64("latency_ms", latency),
				slog.String("error", err.Error()),
			)
		}
		return CheckResult{Status: "fail", Message: err.Error(), LatencyMS: latency}
	}
	return CheckResult{Status: "ok", LatencyMS: latency}
}
