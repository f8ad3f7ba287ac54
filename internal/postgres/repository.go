// Package postgres holds the durable audit trail of task runs. Runtime state
// lives in Redis; Postgres keeps what should survive it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// RunRecord is one row of the task_runs audit table.
type RunRecord struct {
	TaskID         string
	Prompt         string
	GoalSummary    string
	Status         domain.ExecStatus
	TotalSteps     int
	CompletedSteps int
	Progress       float64
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RunRepository abstracts all database access for run auditing.
type RunRepository interface {
	CreateRun(ctx context.Context, exec *domain.TaskExecution, graph *domain.TaskGraph) error
	RecordStep(ctx context.Context, taskID string, entry domain.StepLogEntry) error
	FinishRun(ctx context.Context, exec *domain.TaskExecution) error
	GetRun(ctx context.Context, taskID string) (*RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the RunRepository interface.
func NewRepository(pool *pgxpool.Pool) RunRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) CreateRun(ctx context.Context, exec *domain.TaskExecution, graph *domain.TaskGraph) error {
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	startedAt := time.Now().UTC()
	if exec.StartedAt != nil {
		startedAt = *exec.StartedAt
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO task_runs
			(task_id, prompt, goal_summary, status, total_steps, progress, graph, started_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO NOTHING
	`,
		exec.TaskID, exec.Prompt, graph.GoalSummary, string(exec.Status),
		exec.TotalSteps, exec.ProgressPercent, graphJSON, startedAt,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", exec.TaskID, err)
	}
	return nil
}

func (r *repository) RecordStep(ctx context.Context, taskID string, entry domain.StepLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO run_steps
			(task_id, node_id, name, action, success, error, duration_ms, recorded_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		taskID, entry.NodeID, entry.Name, string(entry.Action),
		entry.Success, entry.Error, entry.DurationMs, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record step for run %s: %w", taskID, err)
	}
	return nil
}

func (r *repository) FinishRun(ctx context.Context, exec *domain.TaskExecution) error {
	resultsJSON, err := json.Marshal(exec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	finishedAt := time.Now().UTC()
	if exec.CompletedAt != nil {
		finishedAt = *exec.CompletedAt
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE task_runs
		SET status = $1, completed_steps = $2, progress = $3, error = $4,
		    results = $5, finished_at = $6
		WHERE task_id = $7
	`,
		string(exec.Status), exec.CompletedSteps, exec.ProgressPercent,
		exec.ErrorMessage, resultsJSON, finishedAt, exec.TaskID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", exec.TaskID, err)
	}
	return nil
}

func (r *repository) GetRun(ctx context.Context, taskID string) (*RunRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT task_id, prompt, goal_summary, status, total_steps,
		       completed_steps, progress, error, started_at, finished_at
		FROM task_runs
		WHERE task_id = $1
	`, taskID)
	return scanRun(row)
}

func (r *repository) ListRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, prompt, goal_summary, status, total_steps,
		       completed_steps, progress, error, started_at, finished_at
		FROM task_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// scanRun reads a run row from any pgx row type.
func scanRun(row interface {
	Scan(...any) error
}) (*RunRecord, error) {
	var run RunRecord
	var statusStr string
	err := row.Scan(
		&run.TaskID, &run.Prompt, &run.GoalSummary, &statusStr,
		&run.TotalSteps, &run.CompletedSteps, &run.Progress, &run.Error,
		&run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: "unknown"}
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.ExecStatus(statusStr)
	return &run, nil
}
