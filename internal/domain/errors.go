package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist in the store.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InterventionNotFoundError is returned when an intervention ID does not
// exist or its record has expired.
type InterventionNotFoundError struct {
	ID string
}

func (e *InterventionNotFoundError) Error() string {
	return fmt.Sprintf("intervention not found: %s", e.ID)
}

// UnknownActionError is returned at graph-build time for an action tag
// outside the closed set.
type UnknownActionError struct {
	NodeID string
	Action NodeAction
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("node %s has unknown action %q", e.NodeID, e.Action)
}

// InvalidGraphError is returned when a planned graph violates a structural
// invariant (cycle, dangling dependency, duplicate id).
type InvalidGraphError struct {
	Reason string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("invalid task graph: %s", e.Reason)
}

// DeadlockError is raised when the execution frontier is empty but the graph
// is not fully completed. It indicates a cycle slipped past planning.
type DeadlockError struct {
	TaskID    string
	Completed int
	Total     int
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("execution deadlock for task %s: no ready nodes with %d/%d completed", e.TaskID, e.Completed, e.Total)
}

// TaskAlreadyProcessedError is returned when a submission is re-delivered but
// the execution is already in a terminal state.
type TaskAlreadyProcessedError struct {
	TaskID string
	Status ExecStatus
}

func (e *TaskAlreadyProcessedError) Error() string {
	return fmt.Sprintf("task %s already processed with status %s", e.TaskID, e.Status)
}

// RateLimitExceededError is returned when a submitter exceeds its rate limit.
type RateLimitExceededError struct {
	Key   string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit is %d", e.Key, e.Limit)
}
