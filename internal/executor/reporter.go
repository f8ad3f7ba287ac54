package executor

import (
	"context"
	"time"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
)

// progressPercent maps completed/total to the reported percentage: a 10%
// floor once execution is under way, advancing linearly to 95 as nodes
// complete. 100 is reserved for terminal completion; the pre-execution
// baseline of 5 is recorded by ExecuteTask before the first node runs.
func progressPercent(completed, total int) float64 {
	if total == 0 {
		return 100
	}
	return 10 + 85*float64(completed)/float64(total)
}

// Reporter applies step outcomes to the execution record. The in-process
// executor and the remote ReportStep entry point both go through it, so the
// progress and completion arithmetic cannot drift between the two paths.
type Reporter struct {
	store redis.ExecutionStore
	bc    *broadcast.Broadcaster
}

// NewReporter creates a Reporter.
func NewReporter(store redis.ExecutionStore, bc *broadcast.Broadcaster) *Reporter {
	return &Reporter{store: store, bc: bc}
}

// StepCompleted records a successful step: merges its output into results,
// advances completed_steps, recomputes progress and appends to the step log.
// If every step is now complete the execution transitions to completed.
func (r *Reporter) StepCompleted(ctx context.Context, taskID, stepID, name string, action domain.NodeAction, data map[string]any, durationMs int64) (*domain.TaskExecution, error) {
	exec, err := r.store.Update(ctx, taskID, func(e *domain.TaskExecution) error {
		if e.Status.IsTerminal() {
			return &domain.TaskAlreadyProcessedError{TaskID: taskID, Status: e.Status}
		}
		if e.Results == nil {
			e.Results = make(map[string]map[string]any)
		}
		e.Results[stepID] = data
		e.CompletedSteps++
		e.ProgressPercent = progressPercent(e.CompletedSteps, e.TotalSteps)
		e.CurrentStep = ""
		e.StepsLog = append(e.StepsLog, domain.StepLogEntry{
			NodeID:     stepID,
			Name:       name,
			Action:     action,
			Success:    true,
			DurationMs: durationMs,
			Timestamp:  time.Now().UTC(),
		})
		if e.CompletedSteps >= e.TotalSteps {
			now := time.Now().UTC()
			e.Status = domain.ExecCompleted
			e.ProgressPercent = 100
			e.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.bc.Broadcast(ctx, taskID, domain.Event{
		Type:     domain.EventStepCompleted,
		StepID:   stepID,
		Message:  name,
		Progress: exec.ProgressPercent,
	})
	if exec.Status == domain.ExecCompleted {
		r.bc.Broadcast(ctx, taskID, domain.Event{
			Type:     domain.EventTaskCompleted,
			Progress: 100,
			Message:  "all steps completed",
		})
	} else {
		r.bc.Broadcast(ctx, taskID, domain.Event{
			Type:     domain.EventTaskProgress,
			Progress: exec.ProgressPercent,
			Data: map[string]any{
				"completed_steps": exec.CompletedSteps,
				"total_steps":     exec.TotalSteps,
			},
		})
	}
	return exec, nil
}

// StepFailed appends a failed attempt to the step log without changing
// progress. Terminal failure is a separate decision made by TaskFailed.
func (r *Reporter) StepFailed(ctx context.Context, taskID, stepID, name string, action domain.NodeAction, errMsg string, durationMs int64) (*domain.TaskExecution, error) {
	exec, err := r.store.Update(ctx, taskID, func(e *domain.TaskExecution) error {
		if e.Status.IsTerminal() {
			return &domain.TaskAlreadyProcessedError{TaskID: taskID, Status: e.Status}
		}
		e.StepsLog = append(e.StepsLog, domain.StepLogEntry{
			NodeID:     stepID,
			Name:       name,
			Action:     action,
			Success:    false,
			Error:      errMsg,
			DurationMs: durationMs,
			Timestamp:  time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.bc.Broadcast(ctx, taskID, domain.Event{
		Type:    domain.EventStepFailed,
		StepID:  stepID,
		Message: name,
		Error:   errMsg,
	})
	return exec, nil
}

// TaskFailed moves the execution to its failed terminal state.
func (r *Reporter) TaskFailed(ctx context.Context, taskID, errMsg string) (*domain.TaskExecution, error) {
	exec, err := r.store.Update(ctx, taskID, func(e *domain.TaskExecution) error {
		if e.Status.IsTerminal() {
			return &domain.TaskAlreadyProcessedError{TaskID: taskID, Status: e.Status}
		}
		now := time.Now().UTC()
		e.Status = domain.ExecFailed
		e.ErrorMessage = errMsg
		e.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.bc.Broadcast(ctx, taskID, domain.Event{
		Type:     domain.EventTaskFailed,
		Error:    errMsg,
		Progress: exec.ProgressPercent,
	})
	return exec, nil
}

// ReportStep is the remote entry point for steps executed outside this
// process. It applies the same arithmetic as the in-process path, so status
// observers cannot tell which path produced the state.
func (r *Reporter) ReportStep(ctx context.Context, taskID, stepID string, success bool, data map[string]any, errMsg string) (*domain.TaskExecution, error) {
	name := stepID
	if n, ok := data["name"].(string); ok && n != "" {
		name = n
	}
	if success {
		return r.StepCompleted(ctx, taskID, stepID, name, "", data, 0)
	}
	return r.StepFailed(ctx, taskID, stepID, name, "", errMsg, 0)
}
