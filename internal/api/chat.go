package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/triage"
)

type createSessionRequest struct {
	Source         string                 `json:"source" validate:"required,oneof=widget agent admin"`
	BrowserSession *domain.BrowserSession `json:"browser_session"`
}

type createMessageRequest struct {
	SessionID string         `json:"session_id" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	Metadata  map[string]any `json:"metadata"`
}

// ChatHandler handles the widget-facing chat endpoints.
type ChatHandler struct {
	*Handler
	feed http.Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// SetFeed mounts a live session feed handler at /sessions/{id}/ws.
func (h *ChatHandler) SetFeed(feed http.Handler) {
	h.feed = feed
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/close", h.CloseSession)
		r.Post("/messages", h.AddMessage)
		if h.feed != nil {
			r.Get("/sessions/{id}/ws", h.feed.ServeHTTP)
		}
	})
}

// CreateSession opens a new chat session.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.svc.CreateSession(r.Context(), triage.CreateSessionInput{
		Source:         domain.SessionSource(req.Source),
		BrowserSession: req.BrowserSession,
	})
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// GetSession returns a session with its transcript.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// CloseSession closes a session. Closing twice is not an error.
func (h *ChatHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.CloseSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// AddMessage runs a report through the triage pipeline.
func (h *ChatHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.HandleMessage(r.Context(), req.SessionID, req.Message, req.Metadata)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, result)
}
