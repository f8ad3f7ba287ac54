// Package browser defines the step-executor capability boundary: a single
// stateful browser session that performs one automation action at a time.
package browser

import (
	"context"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// StepExecutor is the external automation capability. One logical session per
// task; the session cannot safely serve two in-flight actions, so callers
// execute steps strictly sequentially.
//
// ExecuteStep returns an error only for transport-level failures (the agent
// was unreachable); automation failures are reported in-band via
// StepResult.Success and StepResult.Error.
type StepExecutor interface {
	Launch(ctx context.Context) error
	ExecuteStep(ctx context.Context, step map[string]any) (*domain.StepResult, error)
	Close(ctx context.Context) error
}
