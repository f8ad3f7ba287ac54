package domain

import "time"

// ExecStatus is the state of a whole task run.
type ExecStatus string

const (
	ExecPending             ExecStatus = "pending"
	ExecRunning             ExecStatus = "running"
	ExecPaused              ExecStatus = "paused"
	ExecWaitingIntervention ExecStatus = "waiting_intervention"
	ExecCompleted           ExecStatus = "completed"
	ExecFailed              ExecStatus = "failed"
	ExecCancelled           ExecStatus = "cancelled"
)

// IsTerminal returns true if no further state transitions are possible.
func (s ExecStatus) IsTerminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// StepLogEntry records one executed (or attempted) node.
type StepLogEntry struct {
	NodeID     string     `json:"node_id"`
	Name       string     `json:"name"`
	Action     NodeAction `json:"action,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// TaskExecution is the runtime record of one task. The executor owns it; a
// remote step reporter may update it through the same transition rules.
type TaskExecution struct {
	TaskID          string                    `json:"task_id"`
	Prompt          string                    `json:"prompt"`
	Status          ExecStatus                `json:"status"`
	ProgressPercent float64                   `json:"progress_percent"`
	CurrentStep     string                    `json:"current_step,omitempty"`
	CompletedSteps  int                       `json:"completed_steps"`
	TotalSteps      int                       `json:"total_steps"`
	StepsLog        []StepLogEntry            `json:"steps_log,omitempty"`
	ErrorMessage    string                    `json:"error_message,omitempty"`
	Results         map[string]map[string]any `json:"results,omitempty"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// StatusSnapshot is the shape returned by status queries.
type StatusSnapshot struct {
	TaskID          string     `json:"task_id"`
	Status          ExecStatus `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	CompletedSteps  int        `json:"completed_steps"`
	TotalSteps      int        `json:"total_steps"`
	CurrentStep     string     `json:"current_step,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Snapshot projects the execution into its status-query shape.
func (e *TaskExecution) Snapshot() StatusSnapshot {
	return StatusSnapshot{
		TaskID:          e.TaskID,
		Status:          e.Status,
		ProgressPercent: e.ProgressPercent,
		CompletedSteps:  e.CompletedSteps,
		TotalSteps:      e.TotalSteps,
		CurrentStep:     e.CurrentStep,
		ErrorMessage:    e.ErrorMessage,
	}
}

// StepResult is the uniform outcome of one delegated step.
type StepResult struct {
	Success    bool           `json:"success"`
	Action     string         `json:"action,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// GoalSubmission is the message published by the gateway and consumed by the
// orchestrator. Goal may be nil when only the raw prompt was accepted; the
// orchestrator compiles it in that case.
type GoalSubmission struct {
	TaskID      string    `json:"task_id"`
	Prompt      string    `json:"prompt"`
	Goal        *Goal     `json:"goal,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
