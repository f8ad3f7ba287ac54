package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/browser"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
)

// scriptedSession is a StepExecutor whose failures are scripted per action
// or per url. Unscripted steps succeed.
type scriptedSession struct {
	mu       sync.Mutex
	failOn   map[string]int // action or url -> remaining failures
	errText  string
	pageText string
	data     map[string]map[string]any // action -> success data
	executed []map[string]any
	closed   bool
}

func (s *scriptedSession) Launch(context.Context) error { return nil }

func (s *scriptedSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSession) ExecuteStep(_ context.Context, step map[string]any) (*domain.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, step)

	action, _ := step["action"].(string)
	for _, key := range []string{action, stringField(step, "url")} {
		if key == "" {
			continue
		}
		if n, ok := s.failOn[key]; ok && n > 0 {
			s.failOn[key] = n - 1
			errText := s.errText
			if errText == "" {
				errText = "element not found"
			}
			result := &domain.StepResult{Success: false, Action: action, Error: errText}
			if s.pageText != "" {
				result.Data = map[string]any{"page_text": s.pageText}
			}
			return result, nil
		}
	}

	return &domain.StepResult{Success: true, Action: action, Data: s.data[action]}, nil
}

// memExecStore is an in-memory ExecutionStore.
type memExecStore struct {
	mu      sync.Mutex
	execs   map[string]*domain.TaskExecution
	cancels map[string]bool
}

func newMemExecStore() *memExecStore {
	return &memExecStore{
		execs:   make(map[string]*domain.TaskExecution),
		cancels: make(map[string]bool),
	}
}

func (s *memExecStore) Put(_ context.Context, exec *domain.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec.UpdatedAt = time.Now().UTC()
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
	exec.UpdatedAt = time.Now().UTC()
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

func (s *memExecStore) RequestCancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[taskID] = true
	return nil
}

func (s *memExecStore) CancelRequested(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[taskID], nil
}

// chanBus is an in-process Bus delivering to channel subscribers.
type chanBus struct {
	mu   sync.Mutex
	subs map[string][]chan redis.Message
}

func newChanBus() *chanBus { return &chanBus{subs: make(map[string][]chan redis.Message)} }

func (b *chanBus) Publish(_ context.Context, channel string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- redis.Message{Channel: channel, Event: event}:
		default:
		}
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channels ...string) (redis.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan redis.Message, 16)
	for _, c := range channels {
		b.subs[c] = append(b.subs[c], ch)
	}
	return &chanSub{ch: ch}, nil
}

func (b *chanBus) PSubscribe(ctx context.Context, _ ...string) (redis.Subscription, error) {
	return b.Subscribe(ctx)
}

type chanSub struct {
	ch   chan redis.Message
	once sync.Once
}

func (s *chanSub) C() <-chan redis.Message { return s.ch }
func (s *chanSub) Close() error            { s.once.Do(func() { close(s.ch) }); return nil }

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

func newTestExecutor(session *scriptedSession, opts ...Option) (*Executor, *memExecStore) {
	store := newMemExecStore()
	bc := broadcast.NewBroadcaster(newChanBus(), nil)
	factory := func(string) browser.StepExecutor { return session }
	return New(store, bc, NewRegistry(nil), factory, opts...), store
}

func browserNode(id, name string, action domain.NodeAction, deps []string, payload map[string]any) *domain.DAGNode {
	return &domain.DAGNode{
		ID:         id,
		Name:       name,
		Action:     action,
		DependsOn:  deps,
		Payload:    payload,
		Status:     domain.NodePending,
		MaxRetries: 3,
	}
}

func TestExecuteTaskZeroNodeGraph(t *testing.T) {
	e, _ := newTestExecutor(&scriptedSession{})

	exec, err := e.ExecuteTask(context.Background(), "t-0", "do nothing", &domain.TaskGraph{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecCompleted, exec.Status)
	assert.Equal(t, 100.0, exec.ProgressPercent)
}

func TestExecuteTaskHappyPath(t *testing.T) {
	session := &scriptedSession{
		data: map[string]map[string]any{
			"search": {"jobs": []any{
				map[string]any{"url": "https://jobs/1", "title": "Go Engineer"},
				map[string]any{"url": "https://jobs/2", "title": "Backend Engineer"},
			}},
		},
	}
	e, _ := newTestExecutor(session)

	graph := &domain.TaskGraph{
		GoalSummary: "Search for 2 engineer roles on Linkedin",
		Nodes: []*domain.DAGNode{
			browserNode("s1", "Search Linkedin", domain.ActionSearch, nil, map[string]any{"platform": "linkedin"}),
			browserNode("agg", "Aggregate Search Results", domain.ActionAggregate, []string{"s1"}, map[string]any{"deduplicate": true}),
		},
	}

	exec, err := e.ExecuteTask(context.Background(), "t-1", "find go jobs", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecCompleted, exec.Status)
	assert.Equal(t, 100.0, exec.ProgressPercent)
	assert.Equal(t, 2, exec.CompletedSteps)
	require.Len(t, exec.StepsLog, 2)
	assert.True(t, exec.StepsLog[0].Success)
	assert.True(t, exec.StepsLog[1].Success)
	assert.Equal(t, 2, exec.Results["agg"]["count"])
	require.NotNil(t, exec.CompletedAt)
	assert.True(t, session.closed)
}

func TestExecuteTaskFailsAfterRetriesWithNodeName(t *testing.T) {
	session := &scriptedSession{
		failOn:  map[string]int{"submit": 99},
		errText: "click intercepted: overlay covers the target",
	}
	e, _ := newTestExecutor(session)

	graph := &domain.TaskGraph{Nodes: []*domain.DAGNode{
		browserNode("n1", "Submit Application", domain.ActionSubmit, nil, nil),
	}}

	exec, err := e.ExecuteTask(context.Background(), "t-2", "apply", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "Submit Application")
	assert.Equal(t, 3, graph.Nodes[0].RetryCount)
	assert.True(t, session.closed)
}

func TestExecuteTaskDeadlockOnCycle(t *testing.T) {
	session := &scriptedSession{}
	e, _ := newTestExecutor(session)

	graph := &domain.TaskGraph{Nodes: []*domain.DAGNode{
		browserNode("a", "A", domain.ActionNavigate, []string{"b"}, nil),
		browserNode("b", "B", domain.ActionNavigate, []string{"a"}, nil),
	}}

	exec, err := e.ExecuteTask(context.Background(), "t-3", "impossible", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "deadlock")
	assert.True(t, session.closed)
}

func TestCancelObservedAtFrontierBoundary(t *testing.T) {
	session := &scriptedSession{}
	e, store := newTestExecutor(session)

	require.NoError(t, store.RequestCancel(context.Background(), "t-4"))

	graph := &domain.TaskGraph{Nodes: []*domain.DAGNode{
		browserNode("n1", "Search Linkedin", domain.ActionSearch, nil, nil),
	}}

	exec, err := e.ExecuteTask(context.Background(), "t-4", "never mind", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecCancelled, exec.Status)
	assert.Empty(t, session.executed)
	assert.True(t, session.closed)
}

func TestCancelRejectsTerminalTask(t *testing.T) {
	session := &scriptedSession{}
	e, store := newTestExecutor(session)

	done := time.Now().UTC()
	require.NoError(t, store.Put(context.Background(), &domain.TaskExecution{
		TaskID:      "t-5",
		Status:      domain.ExecCompleted,
		CompletedAt: &done,
	}))

	err := e.Cancel(context.Background(), "t-5")
	var already *domain.TaskAlreadyProcessedError
	require.ErrorAs(t, err, &already)
}

func TestInterventionResumeGivesFreshRetryBudget(t *testing.T) {
	session := &scriptedSession{
		failOn:   map[string]int{"submit": 1},
		errText:  "step blocked",
		pageText: "please complete the reCAPTCHA challenge to continue",
	}
	bus := newChanBus()
	intStore := newMemIntStore()
	mgr := intervention.NewManager(intStore, bus, nil)

	store := newMemExecStore()
	bc := broadcast.NewBroadcaster(bus, nil)
	e := New(store, bc, NewRegistry(nil), func(string) browser.StepExecutor { return session }, WithInterventions(mgr))

	// A human resolves the captcha as soon as the request appears.
	go func() {
		for i := 0; i < 200; i++ {
			ids, _ := intStore.PendingIDs(context.Background())
			if len(ids) == 1 {
				_, _ = mgr.Complete(context.Background(), ids[0], map[string]any{"solved": true})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	node := browserNode("n1", "Submit Application", domain.ActionSubmit, nil, nil)
	graph := &domain.TaskGraph{Nodes: []*domain.DAGNode{node}}

	exec, err := e.ExecuteTask(context.Background(), "t-6", "apply", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecCompleted, exec.Status)
	assert.Equal(t, 100.0, exec.ProgressPercent)
	// The resolved intervention reset the retry budget before the successful
	// attempt.
	assert.Equal(t, 0, node.RetryCount)
}

func TestExecuteTaskFailsWhenHumanNeededButUnavailable(t *testing.T) {
	session := &scriptedSession{
		failOn:   map[string]int{"submit": 99},
		errText:  "step blocked",
		pageText: "please complete the reCAPTCHA challenge",
	}
	e, _ := newTestExecutor(session)

	graph := &domain.TaskGraph{Nodes: []*domain.DAGNode{
		browserNode("n1", "Submit Application", domain.ActionSubmit, nil, nil),
	}}

	exec, err := e.ExecuteTask(context.Background(), "t-7", "apply", graph)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "Submit Application")
	assert.Contains(t, exec.ErrorMessage, "human")
}

func TestHeartbeatRefreshesUpdatedAt(t *testing.T) {
	session := &scriptedSession{}
	e, store := newTestExecutor(session)

	stale := time.Now().UTC().Add(-time.Hour)
	store.execs["t-hb"] = &domain.TaskExecution{
		TaskID:    "t-hb",
		Status:    domain.ExecRunning,
		UpdatedAt: stale,
	}

	e.heartbeat("t-hb")(context.Background())

	exec, err := store.Get(context.Background(), "t-hb")
	require.NoError(t, err)
	assert.True(t, exec.UpdatedAt.After(stale), "heartbeat must advance updated_at")
	assert.Equal(t, domain.ExecRunning, exec.Status)
}

func TestProgressArithmetic(t *testing.T) {
	assert.Equal(t, 100.0, progressPercent(0, 0))
	assert.Equal(t, 10.0, progressPercent(0, 4))
	assert.Equal(t, 52.5, progressPercent(1, 2))
	assert.Equal(t, 95.0, progressPercent(2, 2))
}

func TestReportStepMatchesInProcessArithmetic(t *testing.T) {
	store := newMemExecStore()
	bc := broadcast.NewBroadcaster(newChanBus(), nil)
	reporter := NewReporter(store, bc)

	now := time.Now().UTC()
	require.NoError(t, store.Put(context.Background(), &domain.TaskExecution{
		TaskID:          "t-8",
		Status:          domain.ExecRunning,
		ProgressPercent: 5,
		TotalSteps:      2,
		StartedAt:       &now,
	}))

	exec, err := reporter.ReportStep(context.Background(), "t-8", "s1", true, map[string]any{"jobs": []any{}}, "")
	require.NoError(t, err)
	assert.Equal(t, 52.5, exec.ProgressPercent)
	assert.Equal(t, 1, exec.CompletedSteps)
	assert.Equal(t, domain.ExecRunning, exec.Status)

	exec, err = reporter.ReportStep(context.Background(), "t-8", "s2", true, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, exec.ProgressPercent)
	assert.Equal(t, domain.ExecCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
}

func TestStepCompletedEmitsProgressEvent(t *testing.T) {
	bus := newChanBus()
	store := newMemExecStore()
	reporter := NewReporter(store, broadcast.NewBroadcaster(bus, nil))

	now := time.Now().UTC()
	require.NoError(t, store.Put(context.Background(), &domain.TaskExecution{
		TaskID:          "t-11",
		Status:          domain.ExecRunning,
		ProgressPercent: 5,
		TotalSteps:      2,
		StartedAt:       &now,
	}))

	sub, err := bus.Subscribe(context.Background(), redis.TaskChannel("t-11"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = reporter.StepCompleted(context.Background(), "t-11", "s1", "search", domain.ActionSearch, nil, 120)
	require.NoError(t, err)

	var types []domain.EventType
	var progress *domain.Event
	for len(sub.C()) > 0 {
		msg := <-sub.C()
		types = append(types, msg.Event.Type)
		if msg.Event.Type == domain.EventTaskProgress {
			ev := msg.Event
			progress = &ev
		}
	}
	assert.Contains(t, types, domain.EventStepCompleted)
	require.NotNil(t, progress, "mid-run step completion must publish a progress event")
	assert.Equal(t, 52.5, progress.Progress)
	assert.Equal(t, 1, progress.Data["completed_steps"])
	assert.Equal(t, 2, progress.Data["total_steps"])

	// The final step resolves the task; completion replaces the progress event.
	_, err = reporter.StepCompleted(context.Background(), "t-11", "s2", "submit", domain.ActionSubmit, nil, 80)
	require.NoError(t, err)

	types = types[:0]
	for len(sub.C()) > 0 {
		types = append(types, (<-sub.C()).Event.Type)
	}
	assert.Contains(t, types, domain.EventTaskCompleted)
	assert.NotContains(t, types, domain.EventTaskProgress)
}

func TestReportStepFailureKeepsProgress(t *testing.T) {
	store := newMemExecStore()
	bc := broadcast.NewBroadcaster(newChanBus(), nil)
	reporter := NewReporter(store, bc)

	now := time.Now().UTC()
	require.NoError(t, store.Put(context.Background(), &domain.TaskExecution{
		TaskID:          "t-9",
		Status:          domain.ExecRunning,
		ProgressPercent: 5,
		TotalSteps:      2,
		StartedAt:       &now,
	}))

	exec, err := reporter.ReportStep(context.Background(), "t-9", "s1", false, nil, "element not found")
	require.NoError(t, err)
	assert.Equal(t, 5.0, exec.ProgressPercent)
	assert.Equal(t, 0, exec.CompletedSteps)
	require.Len(t, exec.StepsLog, 1)
	assert.False(t, exec.StepsLog[0].Success)
	assert.Equal(t, "element not found", exec.StepsLog[0].Error)
}

func TestReportStepRejectsTerminalExecution(t *testing.T) {
	store := newMemExecStore()
	bc := broadcast.NewBroadcaster(newChanBus(), nil)
	reporter := NewReporter(store, bc)

	require.NoError(t, store.Put(context.Background(), &domain.TaskExecution{
		TaskID: "t-10",
		Status: domain.ExecFailed,
	}))

	_, err := reporter.ReportStep(context.Background(), "t-10", "s1", true, nil, "")
	var already *domain.TaskAlreadyProcessedError
	require.ErrorAs(t, err, &already)
	assert.False(t, errors.Is(err, context.Canceled))
}
