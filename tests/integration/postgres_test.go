//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/planner"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/postgres"
)

// newRepo creates a repository connected to the test Postgres container
// and truncates the tables on cleanup.
func newRepo(t *testing.T) postgres.RunRepository {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE run_steps, task_runs CASCADE") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewRepository(pool)
}

func makeRun(t *testing.T) (*domain.TaskExecution, *domain.TaskGraph) {
	t.Helper()
	graph, err := planner.BuildGraph(&domain.Goal{
		Action:      domain.GoalSearch,
		Role:        "backend engineer",
		TargetCount: 3,
		Platforms:   []string{"linkedin"},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	return &domain.TaskExecution{
		TaskID:          uuid.New().String(),
		Prompt:          "search for 3 backend engineer jobs",
		Status:          domain.ExecRunning,
		ProgressPercent: 5,
		TotalSteps:      len(graph.Nodes),
		StartedAt:       &now,
	}, graph
}

func TestPostgres_CreateRun_GetRun(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	exec, graph := makeRun(t)
	require.NoError(t, repo.CreateRun(ctx, exec, graph))

	got, err := repo.GetRun(ctx, exec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, exec.TaskID, got.TaskID)
	assert.Equal(t, exec.Prompt, got.Prompt)
	assert.Equal(t, domain.ExecRunning, got.Status)
	assert.Equal(t, len(graph.Nodes), got.TotalSteps)
	assert.NotEmpty(t, got.GoalSummary)
	assert.Nil(t, got.FinishedAt)
}

func TestPostgres_CreateRun_Idempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	exec, graph := makeRun(t)
	require.NoError(t, repo.CreateRun(ctx, exec, graph))

	// A redelivered submission re-creates the run; the first row wins.
	exec.Prompt = "changed prompt"
	require.NoError(t, repo.CreateRun(ctx, exec, graph))

	got, err := repo.GetRun(ctx, exec.TaskID)
	require.NoError(t, err)
	assert.NotEqual(t, "changed prompt", got.Prompt)
}

func TestPostgres_GetRun_NotFound(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetRun(context.Background(), uuid.New().String())
	require.Error(t, err)

	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPostgres_FinishRun_RecordsOutcome(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	exec, graph := makeRun(t)
	require.NoError(t, repo.CreateRun(ctx, exec, graph))

	require.NoError(t, repo.RecordStep(ctx, exec.TaskID, domain.StepLogEntry{
		NodeID:     graph.Nodes[0].ID,
		Name:       graph.Nodes[0].Name,
		Action:     graph.Nodes[0].Action,
		Success:    true,
		DurationMs: 1200,
		Timestamp:  time.Now().UTC(),
	}))

	now := time.Now().UTC()
	exec.Status = domain.ExecCompleted
	exec.CompletedSteps = exec.TotalSteps
	exec.ProgressPercent = 100
	exec.CompletedAt = &now
	require.NoError(t, repo.FinishRun(ctx, exec))

	got, err := repo.GetRun(ctx, exec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	assert.Equal(t, exec.TotalSteps, got.CompletedSteps)
	require.NotNil(t, got.FinishedAt)
}

func TestPostgres_ListRecentRuns_OrdersByStart(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	var newest string
	for i := 0; i < 3; i++ {
		exec, graph := makeRun(t)
		started := time.Now().UTC().Add(time.Duration(i) * time.Minute)
		exec.StartedAt = &started
		exec.Prompt = fmt.Sprintf("run %d", i)
		require.NoError(t, repo.CreateRun(ctx, exec, graph))
		newest = exec.TaskID
	}

	runs, err := repo.ListRecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newest, runs[0].TaskID)
}
