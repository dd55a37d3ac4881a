package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/store"
)

const defaultPageSize = 50

// listMeta describes one page of a listing.
type listMeta struct {
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type listResponse struct {
	Data interface{} `json:"data"`
	Meta listMeta    `json:"meta"`
}

// AdminHandler serves read-only views over sessions and the backlog.
type AdminHandler struct {
	*Handler
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(base *Handler) *AdminHandler {
	return &AdminHandler{Handler: base}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}/messages", h.SessionMessages)
		r.Get("/backlog", h.ListBacklog)
		r.Get("/backlog/{id}", h.GetBacklogTask)
		r.Get("/metrics", h.Metrics)
	})
}

// ListSessions lists sessions filtered by status, source and creation window.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		Status: domain.SessionStatus(q.Get("status")),
		Source: domain.SessionSource(q.Get("source")),
	}
	if filter.Status != "" && filter.Status != domain.StatusOpen && filter.Status != domain.StatusClosed {
		Error(w, http.StatusBadRequest, "status must be one of [open closed]")
		return
	}
	if filter.Source != "" && !filter.Source.Valid() {
		Error(w, http.StatusBadRequest, "source must be one of [widget agent admin]")
		return
	}

	var err error
	if filter.From, filter.To, err = timeWindow(r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, filter.Offset, err = page(r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), filter)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, listResponse{
		Data: sessions,
		Meta: listMeta{Count: len(sessions), Limit: filter.Limit, Offset: filter.Offset},
	})
}

// SessionMessages returns the transcript of one session.
func (h *AdminHandler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   messages,
		"count":      len(messages),
	})
}

// ListBacklog lists backlog tasks filtered by severity, priority and
// creation window.
func (h *AdminHandler) ListBacklog(w http.ResponseWriter, r *http.Request) {
	filter := store.BacklogFilter{Severity: domain.Severity(r.URL.Query().Get("severity"))}
	if filter.Severity != "" && !filter.Severity.Valid() {
		Error(w, http.StatusBadRequest, "severity must be one of [low medium high critical]")
		return
	}

	var err error
	if filter.Priority, err = queryInt(r, "priority", 0); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Priority > 5 {
		Error(w, http.StatusBadRequest, "priority must be between 1 and 5")
		return
	}
	if filter.From, filter.To, err = timeWindow(r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit, filter.Offset, err = page(r); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := h.repo.ListBacklogTasks(r.Context(), filter)
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, listResponse{
		Data: tasks,
		Meta: listMeta{Count: len(tasks), Limit: filter.Limit, Offset: filter.Offset},
	})
}

// GetBacklogTask returns a single backlog task.
func (h *AdminHandler) GetBacklogTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.repo.GetBacklogTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	if task == nil {
		Error(w, http.StatusNotFound, "backlog task not found")
		return
	}
	JSON(w, http.StatusOK, task)
}

// Metrics returns aggregate counters over sessions and the backlog.
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		ServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

func timeWindow(r *http.Request) (from, to *time.Time, err error) {
	if from, err = queryTime(r, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = queryTime(r, "to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
