package handlers

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency of the controller is usable.
type ReadinessCheck func(ctx context.Context) error

// AddReadinessCheck registers a dependency reported by Readyz next to the database.
func (h *Handlers) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// Healthz answers while the process is serving.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz runs every dependency check and returns 503 if any of them fails.
// The body lists each dependency as "ok" or "unavailable".
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := append([]namedCheck{{name: "database", check: h.store.Ping}}, h.checks...)
	results := make(map[string]string, len(checks))
	status, code := "ready", http.StatusOK
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			h.log.Warn("readiness check failed", "dependency", c.name, "error", err)
			results[c.name] = "unavailable"
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		results[c.name] = "ok"
	}

	h.respondJson(w, code, map[string]interface{}{"status": status, "checks": results})
}
