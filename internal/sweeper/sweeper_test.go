package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backlog-triage/internal/domain"
	"github.com/ashureev/backlog-triage/internal/store"
)

func seed(t *testing.T, repo *store.SQLiteStore, updated time.Time) string {
	t.Helper()
	session := &domain.ChatSession{
		ID:        uuid.NewString(),
		Source:    domain.SourceWidget,
		Status:    domain.StatusOpen,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	require.NoError(t, repo.CreateSession(context.Background(), session))
	return session.ID
}

func TestSweep_ClosesOnlyIdleSessions(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := seed(t, repo, now.Add(-2*time.Hour))
	fresh := seed(t, repo, now.Add(-10*time.Minute))

	var closedIDs []string
	s := New(repo, time.Hour, func(id string) { closedIDs = append(closedIDs, id) })
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{stale}, closedIDs)

	got, err := repo.GetSession(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)

	got, err = repo.GetSession(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)

	// A second run finds nothing to do.
	n, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_PagesThroughBatches(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seed(t, repo, now.Add(-time.Duration(i+2)*time.Hour))
	}

	s := New(repo, time.Hour, nil)
	s.batch = 2

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

type flakyStore struct {
	mu        sync.Mutex
	sessions  []*domain.ChatSession
	failures  int
	closeErr  error
	attempts  int
	closedIDs []string
}

func (f *flakyStore) ListIdleSessions(context.Context, time.Time, int) ([]*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []*domain.ChatSession
	for _, s := range f.sessions {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	return open, nil
}

func (f *flakyStore) CloseSession(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.closeErr != nil {
		return false, f.closeErr
	}
	if f.failures > 0 {
		f.failures--
		return false, errors.New("database is locked")
	}
	for _, s := range f.sessions {
		if s.ID == id && s.IsOpen() {
			s.Status = domain.StatusClosed
			f.closedIDs = append(f.closedIDs, id)
			return true, nil
		}
	}
	return false, nil
}

func TestSweep_RetriesLockedDatabase(t *testing.T) {
	fs := &flakyStore{
		sessions: []*domain.ChatSession{{ID: "a", Status: domain.StatusOpen}},
		failures: 2,
	}
	s := New(fs, time.Minute, nil)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, fs.attempts)
	assert.Equal(t, []string{"a"}, fs.closedIDs)
}

func TestSweep_StopsWhenNothingCloses(t *testing.T) {
	fs := &flakyStore{
		sessions: []*domain.ChatSession{{ID: "a", Status: domain.StatusOpen}},
		closeErr: errors.New("disk I/O error"),
	}
	s := New(fs, time.Minute, nil)
	s.batch = 1

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, fs.attempts)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := New(&flakyStore{}, time.Minute, nil)
	require.Error(t, s.Start(context.Background(), "not a schedule"))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	fs := &flakyStore{sessions: []*domain.ChatSession{{ID: "a", Status: domain.StatusOpen}}}
	s := New(fs, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, "@every 1s"))

	assert.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.closedIDs) == 1
	}, 5*time.Second, 50*time.Millisecond)
}
