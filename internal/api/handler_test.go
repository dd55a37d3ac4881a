//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backlog-triage/internal/agent"
	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/retrieval"
	"github.com/ashureev/backlog-triage/internal/store"
	"github.com/ashureev/backlog-triage/internal/triage"
)

type fixedRetriever struct{}

func (fixedRetriever) Retrieve(context.Context, string) retrieval.Outcome {
	return retrieval.NewLive([]retrieval.Document{{ID: "web-101", Title: "404", Relevance: 0.9}}, 12)
}

type brokenInvoker struct{}

func (brokenInvoker) Name() string { return "broken" }

func (brokenInvoker) Invoke(context.Context, string, agent.ContextPayload) (*agent.Reply, error) {
	return nil, errors.New("upstream unavailable")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("database is closed") }

type apiFixture struct {
	repo   *store.SQLiteStore
	router chi.Router
}

func newAPIFixture(t *testing.T, inv agent.Invoker) *apiFixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	if inv == nil {
		inv = agent.NewMock(0, nil)
	}
	svc := triage.NewService(repo, fixedRetriever{}, inv, "", nil)

	base := NewHandler(repo, svc)
	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)
	NewChatHandler(base).RegisterRoutes(r)
	NewAdminHandler(base).RegisterRoutes(r)
	return &apiFixture{repo: repo, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(t *testing.T) domain.ChatSession {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/chat/sessions", map[string]interface{}{
		"source":          "widget",
		"browser_session": map[string]string{"user_agent": "Mozilla/5.0", "timezone": "Europe/Moscow"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session domain.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"foo":"bar"}`, w.Body.String())
}

func TestServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", triage.ErrSessionNotFound, http.StatusNotFound},
		{"closed", triage.ErrSessionClosed, http.StatusConflict},
		{"invalid source", triage.ErrInvalidSource, http.StatusBadRequest},
		{"empty message", triage.ErrEmptyMessage, http.StatusBadRequest},
		{"processing", &triage.ProcessingError{SessionID: "s", Cause: errors.New("boom")}, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestChat_MessageFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	session := f.createSession(t)
	assert.Equal(t, domain.StatusOpen, session.Status)
	require.NotNil(t, session.BrowserSession)
	assert.Equal(t, "Europe/Moscow", session.BrowserSession.Timezone)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]interface{}{
		"session_id": session.ID,
		"message":    "Сайт выдаёт 404",
		"metadata":   map[string]string{"page": "/checkout"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result triage.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, session.ID, result.SessionID)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, domain.CategoryBug, result.Analysis.Category)
	assert.NotEmpty(t, result.BacklogTaskID)

	rec = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var full domain.SessionWithMessages
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	require.Len(t, full.Messages, 2)
	assert.Equal(t, domain.RoleUser, full.Messages[0].Role)
	assert.Equal(t, domain.RoleAgent, full.Messages[1].Role)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/backlog/"+result.BacklogTaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var task domain.BacklogTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "Сайт выдаёт 404", task.TicketText)
}

func TestChat_Validation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/sessions", map[string]string{"source": "email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "source must be one of")

	rec = f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "session_id is required")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/sessions", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_SessionErrors(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/chat/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]string{"session_id": "missing", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	session := f.createSession(t)
	rec = f.do(t, http.MethodPost, "/api/v1/chat/sessions/"+session.ID+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decodeMap(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/chat/sessions/"+session.ID+"/close", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]string{"session_id": session.ID, "message": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/sessions/"+session.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeMap(t, rec)["count"])
}

func TestChat_AgentFailure(t *testing.T) {
	f := newAPIFixture(t, brokenInvoker{})
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]string{"session_id": session.ID, "message": "Кнопка не работает"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "upstream unavailable")

	messages, err := f.repo.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.True(t, messages[1].IsError())
}

func TestAdmin_Listings(t *testing.T) {
	f := newAPIFixture(t, nil)
	for _, text := range []string{"Сайт выдаёт 404", "Как сбросить пароль?", "Хочу темную тему"} {
		session := f.createSession(t)
		rec := f.do(t, http.MethodPost, "/api/v1/chat/messages", map[string]string{"session_id": session.ID, "message": text})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/admin/sessions?status=open&source=widget&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, map[string]interface{}{"count": 2.0, "limit": 2.0, "offset": 0.0}, body["meta"])

	rec = f.do(t, http.MethodGet, "/api/v1/admin/backlog?severity=high", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeMap(t, rec)["data"], 1)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/backlog?from=2000-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeMap(t, rec)["data"], 3)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.TotalSessions)
	assert.EqualValues(t, 3, stats.TotalTasks)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/backlog/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/admin/sessions/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_InvalidFilters(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, path := range []string{
		"/api/v1/admin/sessions?status=pending",
		"/api/v1/admin/sessions?source=email",
		"/api/v1/admin/sessions?limit=-1",
		"/api/v1/admin/backlog?severity=urgent",
		"/api/v1/admin/backlog?priority=9",
		"/api/v1/admin/backlog?from=yesterday",
	} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"api": "ok", "database": "ok"}, body["checks"])

	rec = f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Backlog API", decodeMap(t, rec)["name"])

	r := chi.NewRouter()
	NewHealthHandler(downPinger{}).RegisterHealth(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unreachable")
}
