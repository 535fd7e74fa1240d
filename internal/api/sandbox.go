package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/visual-study-buddy/internal/sandbox"
)

// SandboxMetrics counts sandbox runs.
type SandboxMetrics interface {
	RecordSandboxRun(ctx context.Context, failed bool)
}

// SandboxHandler runs code snippets from the code tab.
type SandboxHandler struct {
	runner  sandbox.Runner
	metrics SandboxMetrics
}

// NewSandboxHandler creates a sandbox handler. metrics may be nil.
func NewSandboxHandler(runner sandbox.Runner, metrics SandboxMetrics) *SandboxHandler {
	return &SandboxHandler{runner: runner, metrics: metrics}
}

// RegisterRoutes registers sandbox routes.
func (h *SandboxHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sandbox/run", h.Run)
}

// Run executes the submitted code. Execution failures are part of the
// result, not HTTP errors.
func (h *SandboxHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.runner.Run(r.Context(), req.Code)
	if h.metrics != nil {
		h.metrics.RecordSandboxRun(r.Context(), res.Failed)
	}
	JSON(w, http.StatusOK, res)
}
