// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/backlog-triage/internal/domain"
)

// SessionFilter narrows the admin session listing. Zero values mean "any".
type SessionFilter struct {
	Status domain.SessionStatus
	Source domain.SessionSource
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// BacklogFilter narrows the admin backlog listing. Zero values mean "any".
type BacklogFilter struct {
	Severity domain.Severity
	Priority int
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Repository defines the interface for persisting sessions, their transcript
// and the backlog derived from it.
type Repository interface {
	// CreateSession inserts a new chat session.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session by ID. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// TouchSession refreshes updated_at without changing status.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// CloseSession moves an open session to closed. It reports whether a
	// transition happened; an already closed or missing session yields false.
	CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error)

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.ChatSession, error)

	// ListIdleSessions returns open sessions not updated since before.
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*domain.ChatSession, error)

	// AppendMessage adds a message to a session transcript.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListMessages returns a session transcript in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)

	// SaveAnalysis persists an agent message and, when task is non-nil, the
	// backlog task derived from it, atomically.
	SaveAnalysis(ctx context.Context, msg *domain.ChatMessage, task *domain.BacklogTask) error

	// GetBacklogTask retrieves a backlog task by ID. Returns nil, nil when absent.
	GetBacklogTask(ctx context.Context, taskID string) (*domain.BacklogTask, error)

	// ListBacklogTasks returns backlog tasks newest first.
	ListBacklogTasks(ctx context.Context, filter BacklogFilter) ([]*domain.BacklogTask, error)

	// Stats aggregates session and backlog counters.
	Stats(ctx context.Context) (*domain.Stats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
