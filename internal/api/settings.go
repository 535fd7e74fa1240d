package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/credential"
	"github.com/ashureev/visual-study-buddy/internal/domain"
	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

// Credentials manages the API key override.
type Credentials interface {
	Source(ctx context.Context) (credential.Source, error)
	Set(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ReadyReporter reports whether the sandbox accepts runs.
type ReadyReporter interface {
	Ready() bool
}

// SettingsHandler serves client configuration and the credential override.
type SettingsHandler struct {
	d       *tutor.Dispatcher
	creds   Credentials
	sandbox ReadyReporter
}

// NewSettingsHandler creates a settings handler. sandbox may be nil.
func NewSettingsHandler(d *tutor.Dispatcher, creds Credentials, sandbox ReadyReporter) *SettingsHandler {
	return &SettingsHandler{d: d, creds: creds, sandbox: sandbox}
}

// RegisterRoutes registers settings routes.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
	r.Get("/api/settings/api-key", h.GetAPIKey)
	r.Put("/api/settings/api-key", h.PutAPIKey)
	r.Delete("/api/settings/api-key", h.DeleteAPIKey)
}

// GetConfig returns the server configuration for the frontend.
func (h *SettingsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	source, err := h.creds.Source(r.Context())
	if err != nil {
		slog.Error("Failed to resolve credential source", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read settings")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"subjects":      domain.Subjects,
		"selected":      h.d.Selected(),
		"pending":       h.d.Pending(),
		"sandbox_ready": h.sandbox != nil && h.sandbox.Ready(),
		"key_source":    source,
		"split_marker":  conversation.SplitMarker,
	})
}

// GetAPIKey reports where the credential comes from. The key itself is never
// returned.
func (h *SettingsHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	h.writeSource(r.Context(), w)
}

// PutAPIKey stores a credential override.
func (h *SettingsHandler) PutAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.creds.Set(r.Context(), req.APIKey); err != nil {
		slog.Error("Failed to store API key", "error", err)
		Error(w, http.StatusInternalServerError, "failed to store api key")
		return
	}
	h.writeSource(r.Context(), w)
}

// DeleteAPIKey removes the override so the process default applies.
func (h *SettingsHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Clear(r.Context()); err != nil {
		slog.Error("Failed to clear API key", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear api key")
		return
	}
	h.writeSource(r.Context(), w)
}

func (h *SettingsHandler) writeSource(ctx context.Context, w http.ResponseWriter) {
	source, err := h.creds.Source(ctx)
	if err != nil {
		slog.Error("Failed to resolve credential source", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"source":     source,
		"configured": source != credential.SourceNone,
	})
}
