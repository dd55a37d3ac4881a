package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/backlog-triage/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL
}

// NewSQLite creates a new SQLite-backed repository and migrates its schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	browser, err := marshalNullable(session.BrowserSession)
	if err != nil {
		return fmt.Errorf("encode browser session: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
		INSERT INTO chat_sessions (id, source, status, browser_session, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.Source), string(session.Status), browser,
		session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, source, status, browser_session, created_at, updated_at`

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// TouchSession refreshes updated_at. Concurrent touches are last-write-wins.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, at.UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// CloseSession moves an open session to closed. The status predicate keeps
// the transition one-way even when racing other writers.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE chat_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query, string(domain.StatusClosed), at.UnixNano(), sessionID, string(domain.StatusOpen))
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListSessions returns sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.ChatSession, error) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	return s.querySessions(ctx, query, args...)
}

// ListIdleSessions returns open sessions not updated since before, oldest first.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`
	return s.querySessions(ctx, query, string(domain.StatusOpen), before.UnixNano(), limitOrDefault(limit))
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	sessions := make([]*domain.ChatSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage adds a message to a session transcript.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return insertMessage(ctx, s.db, msg)
}

// ListMessages returns a session transcript. Rows sharing a timestamp keep
// insertion order through rowid.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, role, message, metadata, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		var msg domain.ChatMessage
		var role string
		var metadata sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Message, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.MessageRole(role)
		msg.CreatedAt = fromUnixNano(createdAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// SaveAnalysis persists an agent message and its optional backlog task in
// one transaction, so a failed task insert never leaves a dangling agent
// entry behind.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, msg *domain.ChatMessage, task *domain.BacklogTask) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back analysis transaction", "error", rbErr)
		}
	}()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	if task != nil {
		metrics, err := json.Marshal(task.Metrics)
		if err != nil {
			return fmt.Errorf("encode task metrics: %w", err)
		}
		query := `
			INSERT INTO backlog_tasks (id, ticket_text, ai_summary, severity, priority, metrics, session_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, query,
			task.ID, task.TicketText, task.AISummary, string(task.Severity), task.Priority,
			string(metrics), task.Metrics.CreatedFromSessionID, task.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert backlog task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

const taskColumns = `id, ticket_text, ai_summary, severity, priority, metrics, created_at`

// GetBacklogTask retrieves a backlog task by ID.
func (s *SQLiteStore) GetBacklogTask(ctx context.Context, taskID string) (*domain.BacklogTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM backlog_tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan backlog task row: %w", err)
	}
	return task, nil
}

// ListBacklogTasks returns backlog tasks newest first.
func (s *SQLiteStore) ListBacklogTasks(ctx context.Context, filter BacklogFilter) ([]*domain.BacklogTask, error) {
	var where []string
	var args []interface{}

	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Priority > 0 {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := `SELECT ` + taskColumns + ` FROM backlog_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backlog tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close backlog rows", "error", closeErr)
		}
	}()

	tasks := make([]*domain.BacklogTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backlog task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlog tasks: %w", err)
	}
	return tasks, nil
}

// Stats aggregates session and backlog counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var stats domain.Stats

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM chat_sessions`, string(domain.StatusOpen))
	if err := row.Scan(&stats.TotalSessions, &stats.OpenSessions); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	stats.ClosedSessions = stats.TotalSessions - stats.OpenSessions

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backlog_tasks`).Scan(&stats.TotalTasks); err != nil {
		return nil, fmt.Errorf("count backlog tasks: %w", err)
	}

	var avg sql.NullFloat64
	row = s.db.QueryRowContext(ctx, `
		SELECT AVG(CAST(json_extract(metadata, '$.latency_ms') AS REAL))
		FROM chat_messages WHERE role = ?`, string(domain.RoleAgent))
	if err := row.Scan(&avg); err != nil {
		return nil, fmt.Errorf("average agent latency: %w", err)
	}
	stats.AvgResponseTimeMs = avg.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*), AVG(priority)
		FROM backlog_tasks GROUP BY severity ORDER BY severity`)
	if err != nil {
		return nil, fmt.Errorf("group backlog tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close severity rows", "error", closeErr)
		}
	}()

	stats.TasksBySeverity = make([]domain.SeverityStat, 0)
	for rows.Next() {
		var stat domain.SeverityStat
		var severity string
		if err := rows.Scan(&severity, &stat.Count, &stat.AvgPriority); err != nil {
			return nil, fmt.Errorf("scan severity row: %w", err)
		}
		stat.Severity = domain.Severity(severity)
		stats.TasksBySeverity = append(stats.TasksBySeverity, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate severity rows: %w", err)
	}

	return &stats, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func insertMessage(ctx context.Context, db execer, msg *domain.ChatMessage) error {
	metadata, err := marshalNullable(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}

	query := `
		INSERT INTO chat_messages (id, session_id, role, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, string(msg.Role), msg.Message, metadata, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Role, err)
	}
	return nil
}

func scanSession(row scanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var source, status string
	var browser sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&session.ID, &source, &status, &browser, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	session.Source = domain.SessionSource(source)
	session.Status = domain.SessionStatus(status)
	session.CreatedAt = fromUnixNano(createdAt)
	session.UpdatedAt = fromUnixNano(updatedAt)

	if browser.Valid && browser.String != "" {
		var bs domain.BrowserSession
		if err := json.Unmarshal([]byte(browser.String), &bs); err != nil {
			return nil, fmt.Errorf("decode browser session: %w", err)
		}
		session.BrowserSession = &bs
	}
	return &session, nil
}

func scanTask(row scanner) (*domain.BacklogTask, error) {
	var task domain.BacklogTask
	var severity, metrics string
	var createdAt int64

	if err := row.Scan(&task.ID, &task.TicketText, &task.AISummary, &severity, &task.Priority, &metrics, &createdAt); err != nil {
		return nil, err
	}
	task.Severity = domain.Severity(severity)
	task.CreatedAt = fromUnixNano(createdAt)
	if err := json.Unmarshal([]byte(metrics), &task.Metrics); err != nil {
		return nil, fmt.Errorf("decode task metrics: %w", err)
	}
	return &task, nil
}

// marshalNullable encodes v as JSON, mapping nil pointers and maps to SQL NULL.
func marshalNullable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *domain.BrowserSession:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
