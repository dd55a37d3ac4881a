package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backlog-triage/internal/domain"
)

const writeTimeout = 5 * time.Second

// SessionLookup resolves a session by ID. It returns nil, nil when absent.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
}

// WebSocketHandler upgrades a request to a websocket and streams the
// session's new messages as JSON text frames.
type WebSocketHandler struct {
	hub            *Hub
	sessions       SessionLookup
	originPatterns []string
}

// NewWebSocketHandler creates the feed endpoint handler.
func NewWebSocketHandler(hub *Hub, sessions SessionLookup, originPatterns []string) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WebSocketHandler{hub: hub, sessions: sessions, originPatterns: originPatterns}
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Feed session lookup failed", "error", err, "session_id", sessionID)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, sessionID)
	}()

	slog.Info("Feed connected", "session_id", sessionID, "ip", r.RemoteAddr)
	h.writeLoop(ctx, ws, sub)
	slog.Info("Feed disconnected", "session_id", sessionID)
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, msg); err != nil {
				slog.Debug("Feed write error", "error", err, "session_id", sub.SessionID)
				return
			}
		}
	}
}

// readLoop answers pings and notices when the client goes away.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
