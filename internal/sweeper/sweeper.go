// Package sweeper closes sessions that have gone idle.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/shared"
)

const (
	defaultBatch    = 100
	closeRetries    = 3
	closeRetryDelay = 50 * time.Millisecond
	defaultSchedule = "@every 5m"
)

// Store is the subset of the repository the sweeper needs.
type Store interface {
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*domain.ChatSession, error)
	CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

// CloseCallback is called for every session the sweeper closed.
type CloseCallback func(sessionID string)

// Sweeper closes open sessions whose updated_at is older than the TTL.
type Sweeper struct {
	repo    Store
	ttl     time.Duration
	batch   int
	onClose CloseCallback
	now     func() time.Time

	mu sync.Mutex
}

// New creates a sweeper. onClose may be nil.
func New(repo Store, ttl time.Duration, onClose CloseCallback) *Sweeper {
	return &Sweeper{
		repo:    repo,
		ttl:     ttl,
		batch:   defaultBatch,
		onClose: onClose,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules Sweep on a cron spec such as "@every 5m" or "*/10 * * * *".
// The job stops when ctx is done.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("Idle sweeper run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	c.Start()
	slog.Info("Idle sweeper started", "schedule", schedule, "ttl", s.ttl)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("Idle sweeper shutting down", "reason", ctx.Err())
	}()
	return nil
}

// Sweep closes every idle session and returns how many were closed. Runs do
// not overlap.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	closed := 0

	for {
		idle, err := s.repo.ListIdleSessions(ctx, cutoff, s.batch)
		if err != nil {
			return closed, fmt.Errorf("list idle sessions: %w", err)
		}
		if len(idle) == 0 {
			break
		}

		progressed := false
		for _, session := range idle {
			if ctx.Err() != nil {
				return closed, ctx.Err()
			}

			var changed bool
			err := shared.RetryOnConflict(ctx, "close idle session", closeRetries, closeRetryDelay, func(ctx context.Context) error {
				var err error
				changed, err = s.repo.CloseSession(ctx, session.ID, s.now())
				return err
			})
			if err != nil {
				slog.Warn("Idle sweeper failed to close session", "session_id", session.ID, "error", err)
				continue
			}
			progressed = true
			if !changed {
				continue
			}

			closed++
			slog.Info("Idle session closed", "session_id", session.ID, "idle_for", session.IdleFor(s.now()).Round(time.Second))
			if s.onClose != nil {
				s.onClose(session.ID)
			}
		}

		if len(idle) < s.batch || !progressed {
			break
		}
	}

	if closed > 0 {
		slog.Info("Idle sweeper run completed", "closed", closed)
	}
	return closed, nil
}
