package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	serviceName        = "Backlog API"
	serviceVersion     = "1.0.0"
	healthCheckTimeout = 5 * time.Second
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the service index and health check endpoints.
type HealthHandler struct {
	db      Pinger
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now(), now: time.Now}
}

// Index describes the service and its route groups.
func (h *HealthHandler) Index(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"name":      serviceName,
		"version":   serviceVersion,
		"status":    "operational",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"endpoints": map[string]string{
			"health":  "/health",
			"metrics": "/metrics",
			"chat":    "/api/v1/chat/",
			"admin":   "/api/v1/admin/",
			"widget":  "/widget/",
		},
	})
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"uptime":    h.now().Sub(h.started).Seconds(),
		"checks":    checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the index and health routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Index)
	r.Get("/health", h.Health)
}
