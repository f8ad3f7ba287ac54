package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/executor"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	redisstore "github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
)

type fixedElector struct{ leader bool }

func (e fixedElector) AcquireOrRenew(context.Context) bool { return e.leader }

// memExecStore is an in-memory ExecutionStore.
type memExecStore struct {
	mu    sync.Mutex
	execs map[string]*domain.TaskExecution
}

func newMemExecStore() *memExecStore {
	return &memExecStore{execs: make(map[string]*domain.TaskExecution)}
}

func (s *memExecStore) Put(_ context.Context, exec *domain.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *exec
	s.execs[exec.TaskID] = &clone
	return nil
}

func (s *memExecStore) Get(_ context.Context, taskID string) (*domain.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[taskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	clone := *exec
	return &clone, nil
}

func (s *memExecStore) Update(_ context.Context, taskID string, fn func(*domain.TaskExecution) error) (*domain.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[taskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	if err := fn(exec); err != nil {
		return nil, err
	}
	clone := *exec
	return &clone, nil
}

func (s *memExecStore) ActiveIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, exec := range s.execs {
		if !exec.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memExecStore) RequestCancel(context.Context, string) error { return nil }

func (s *memExecStore) CancelRequested(context.Context, string) (bool, error) { return false, nil }

// memIntStore is an in-memory InterventionStore.
type memIntStore struct {
	mu   sync.Mutex
	reqs map[string]*domain.InterventionRequest
}

func newMemIntStore() *memIntStore {
	return &memIntStore{reqs: make(map[string]*domain.InterventionRequest)}
}

func (s *memIntStore) Put(_ context.Context, req *domain.InterventionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *req
	s.reqs[req.ID] = &clone
	return nil
}

func (s *memIntStore) Get(_ context.Context, id string) (*domain.InterventionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return nil, &domain.InterventionNotFoundError{ID: id}
	}
	clone := *req
	return &clone, nil
}

func (s *memIntStore) Update(_ context.Context, id string, fn func(*domain.InterventionRequest) error) (*domain.InterventionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return nil, &domain.InterventionNotFoundError{ID: id}
	}
	if err := fn(req); err != nil {
		return nil, err
	}
	clone := *req
	return &clone, nil
}

func (s *memIntStore) PendingIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, req := range s.reqs {
		if !req.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memIntStore) RecentIDs(context.Context, int) ([]string, error) {
	return s.PendingIDs(context.Background())
}

type nopBus struct{}

func (nopBus) Publish(context.Context, string, domain.Event) error { return nil }

func (nopBus) Subscribe(context.Context, ...string) (redisstore.Subscription, error) {
	return nopSub{}, nil
}

func (nopBus) PSubscribe(context.Context, ...string) (redisstore.Subscription, error) {
	return nopSub{}, nil
}

type nopSub struct{}

func (nopSub) C() <-chan redisstore.Message { return nil }
func (nopSub) Close() error                 { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSweeper(elector Elector, opts ...Option) (*Sweeper, *memExecStore, *memIntStore) {
	execs := newMemExecStore()
	ints := newMemIntStore()
	logger := testLogger()
	mgr := intervention.NewManager(ints, nopBus{}, logger)
	reporter := executor.NewReporter(execs, broadcast.NewBroadcaster(nopBus{}, logger))
	opts = append(opts, WithLogger(logger))
	return New(elector, execs, ints, mgr, reporter, opts...), execs, ints
}

func TestTickExpiresOverdueInterventions(t *testing.T) {
	s, _, ints := newTestSweeper(fixedElector{leader: true})
	ctx := context.Background()

	require.NoError(t, ints.Put(ctx, &domain.InterventionRequest{
		ID:        "int-overdue",
		TaskID:    "task-1",
		Type:      domain.InterventionCaptcha,
		Status:    domain.InterventionPending,
		Timeout:   time.Minute,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
	}))
	require.NoError(t, ints.Put(ctx, &domain.InterventionRequest{
		ID:        "int-fresh",
		TaskID:    "task-2",
		Type:      domain.InterventionCaptcha,
		Status:    domain.InterventionPending,
		Timeout:   time.Hour,
		CreatedAt: time.Now().UTC(),
	}))

	s.Tick(ctx)

	overdue, err := ints.Get(ctx, "int-overdue")
	require.NoError(t, err)
	assert.Equal(t, domain.InterventionTimeout, overdue.Status)
	require.NotNil(t, overdue.CompletedAt)

	fresh, err := ints.Get(ctx, "int-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.InterventionPending, fresh.Status)
}

func TestTickFailsStaleExecutions(t *testing.T) {
	s, execs, _ := newTestSweeper(fixedElector{leader: true}, WithStaleAfter(10*time.Minute))
	ctx := context.Background()

	require.NoError(t, execs.Put(ctx, &domain.TaskExecution{
		TaskID:    "task-stale",
		Status:    domain.ExecRunning,
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, execs.Put(ctx, &domain.TaskExecution{
		TaskID:    "task-live",
		Status:    domain.ExecRunning,
		UpdatedAt: time.Now().UTC(),
	}))

	s.Tick(ctx)

	stale, err := execs.Get(ctx, "task-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecFailed, stale.Status)
	assert.Contains(t, stale.ErrorMessage, "stale")

	live, err := execs.Get(ctx, "task-live")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecRunning, live.Status)
}

func TestTickDoesNothingWithoutLeadership(t *testing.T) {
	s, execs, ints := newTestSweeper(fixedElector{leader: false})
	ctx := context.Background()

	require.NoError(t, ints.Put(ctx, &domain.InterventionRequest{
		ID:        "int-overdue",
		TaskID:    "task-1",
		Status:    domain.InterventionPending,
		Timeout:   time.Minute,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, execs.Put(ctx, &domain.TaskExecution{
		TaskID:    "task-stale",
		Status:    domain.ExecRunning,
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}))

	s.Tick(ctx)

	req, err := ints.Get(ctx, "int-overdue")
	require.NoError(t, err)
	assert.Equal(t, domain.InterventionPending, req.Status)

	exec, err := execs.Get(ctx, "task-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecRunning, exec.Status)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestSweeper(fixedElector{leader: true})
	assert.Error(t, s.Run(context.Background(), "not a schedule"))
}
