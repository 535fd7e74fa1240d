package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// wsMessage represents WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// Runner executes snippets. Executor implements it.
type Runner interface {
	Ready() bool
	Run(ctx context.Context, code string) Result
}

// WebSocketHandler streams sandbox runs over a WebSocket. Runs on one
// connection are processed one at a time, in the order received.
type WebSocketHandler struct {
	runner        Runner
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(runner Runner, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		runner:        runner,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	if err := h.writeJSON(ctx, ws, wsMessage{Type: "ready", Failed: !h.runner.Ready()}); err != nil {
		slog.Debug("Failed to send readiness", "error", err)
		return
	}

	h.readLoop(ctx, ws)
	slog.Debug("Sandbox WebSocket session ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Content: "invalid message"}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "run":
			if err := h.run(ctx, ws, msg.Content); err != nil {
				slog.Debug("Failed to stream run result", "error", err)
				return
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		default:
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Content: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) run(ctx context.Context, ws *websocket.Conn, code string) error {
	if err := h.writeJSON(ctx, ws, wsMessage{Type: "running"}); err != nil {
		return err
	}

	res := h.runner.Run(ctx, code)
	for _, line := range res.Lines {
		if err := h.writeJSON(ctx, ws, wsMessage{Type: "output", Content: line, Failed: res.Failed}); err != nil {
			return err
		}
	}
	return h.writeJSON(ctx, ws, wsMessage{Type: "done", Failed: res.Failed})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
