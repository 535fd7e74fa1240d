package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    Pinger
	sandbox ReadyReporter
}

// NewHealthHandler creates a new health handler. sandbox may be nil.
func NewHealthHandler(repo Pinger, sandbox ReadyReporter) *HealthHandler {
	return &HealthHandler{repo: repo, sandbox: sandbox}
}

// Health returns the health status of the API and its dependencies. A sandbox
// that is still starting degrades nothing; the database being down does.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.sandbox == nil:
		checks["sandbox"] = "disabled"
	case h.sandbox.Ready():
		checks["sandbox"] = "ok"
	default:
		checks["sandbox"] = "initializing"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
