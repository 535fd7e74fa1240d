package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/visual-study-buddy/internal/conversation"
	"github.com/ashureev/visual-study-buddy/internal/domain"
	"github.com/ashureev/visual-study-buddy/internal/tutor"
)

const maxUploadBytes = 20 << 20 // 20MB

// TutorHandler exposes the conversation and its three dispatch operations.
type TutorHandler struct {
	d *tutor.Dispatcher

	mu      sync.Mutex
	preview string // data URI of the image being discussed
}

// NewTutorHandler creates a tutor handler around d.
func NewTutorHandler(d *tutor.Dispatcher) *TutorHandler {
	return &TutorHandler{d: d}
}

// RegisterRoutes registers tutor routes.
func (h *TutorHandler) RegisterRoutes(r chi.Router) {
	r.Put("/api/subject", h.SelectSubject)
	r.Get("/api/messages", h.Messages)
	r.Post("/api/analyze", h.Analyze)
	r.Post("/api/chat", h.Chat)
	r.Post("/api/visualize", h.Visualize)
	r.Post("/api/reset", h.Reset)
}

// turnResponse is a turn with its tabbed view.
type turnResponse struct {
	domain.Turn
	IsError bool               `json:"is_error"`
	View    *conversation.View `json:"view,omitempty"`
}

func newTurnResponse(t domain.Turn) turnResponse {
	resp := turnResponse{Turn: t, IsError: t.IsError()}
	if t.Role == domain.RoleModel && !resp.IsError && t.Content != "" {
		view := conversation.ViewOf(t.Content)
		resp.View = &view
	}
	return resp
}

// SelectSubject chooses the subject for the next upload. A session for
// another subject ends.
func (h *TutorHandler) SelectSubject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := domain.ParseSubject(req.Subject)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.d.Select(subject); err != nil {
		h.dispatchError(w, err)
		return
	}

	slog.Info("Subject selected", "subject", subject)
	JSON(w, http.StatusOK, map[string]interface{}{"selected": subject})
}

// Messages lists the conversation.
func (h *TutorHandler) Messages(w http.ResponseWriter, _ *http.Request) {
	turns := h.d.Store().Turns()
	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, newTurnResponse(t))
	}

	h.mu.Lock()
	preview := h.preview
	h.mu.Unlock()

	JSON(w, http.StatusOK, map[string]interface{}{
		"subject": h.d.Selected(),
		"pending": h.d.Pending(),
		"preview": preview,
		"turns":   out,
	})
}

// Analyze accepts an image upload and starts a new session for it. The
// optional subject field only takes effect once the upload is accepted.
func (h *TutorHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	var subject domain.Subject
	if raw := r.FormValue("subject"); raw != "" {
		parsed, err := domain.ParseSubject(raw)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		subject = parsed
	}

	img, err := readImage(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.d.AnalyzeImageAs(r.Context(), subject, img)
	if err != nil {
		h.dispatchError(w, err)
		return
	}

	h.mu.Lock()
	h.preview = img.DataURI()
	h.mu.Unlock()

	JSON(w, http.StatusOK, newTurnResponse(turn))
}

func readImage(r *http.Request) (tutor.Image, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		return tutor.Image{}, errors.New("image file is required")
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Debug("Failed to close uploaded file", "error", closeErr)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(file, maxUploadBytes+1)); err != nil {
		return tutor.Image{}, errors.New("failed to read image")
	}
	if buf.Len() > maxUploadBytes {
		return tutor.Image{}, errors.New("image is too large")
	}
	if buf.Len() == 0 {
		return tutor.Image{}, errors.New("image is empty")
	}

	mimeType := http.DetectContentType(buf.Bytes())
	if !strings.HasPrefix(mimeType, "image/") {
		return tutor.Image{}, errors.New("file must be an image")
	}
	return tutor.Image{MIMEType: mimeType, Data: buf.Bytes()}, nil
}

// Chat sends a follow-up question.
func (h *TutorHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.d.SendText(r.Context(), req.Message)
	if err != nil {
		h.dispatchError(w, err)
		return
	}
	JSON(w, http.StatusOK, newTurnResponse(turn))
}

// Visualize generates a diagram from an explicit prompt, or from an
// explanation using the named policy: the turn given by turn_id, or the latest
// one.
func (h *TutorHandler) Visualize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Mode   string `json:"mode"`
		TurnID string `json:"turn_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		policy, ok := tutor.PolicyFor(req.Mode)
		if !ok {
			Error(w, http.StatusBadRequest, "unknown visualize mode")
			return
		}
		derived, err := h.d.VisualizePrompt(policy, req.TurnID)
		if err != nil {
			h.dispatchError(w, err)
			return
		}
		prompt = derived
	}

	turn, err := h.d.GenerateImage(r.Context(), prompt)
	if err != nil {
		h.dispatchError(w, err)
		return
	}
	JSON(w, http.StatusOK, newTurnResponse(turn))
}

// Reset clears the conversation and drops the session.
func (h *TutorHandler) Reset(w http.ResponseWriter, _ *http.Request) {
	if err := h.d.Reset(); err != nil {
		h.dispatchError(w, err)
		return
	}

	h.mu.Lock()
	h.preview = ""
	h.mu.Unlock()

	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// dispatchError maps errors that prevented a dispatch from starting. Failures
// of the dispatched call itself are error turns, not HTTP errors.
func (h *TutorHandler) dispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tutor.ErrRequestPending):
		slog.Warn("Request already in progress")
		Error(w, http.StatusConflict, "request_in_progress")
	case errors.Is(err, tutor.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tutor.ErrTurnNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tutor.ErrNothingToVisualize):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("Dispatch rejected", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
