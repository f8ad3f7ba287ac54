// Package executor drives a planned task graph to completion: it walks the
// ready frontier, delegates browser nodes to the step executor, runs internal
// nodes in-process, and applies the retry/recovery/intervention policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/browser"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/planner"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/recovery"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

// RunRecorder persists an audit trail of executions. Optional; a nil
// recorder disables auditing.
type RunRecorder interface {
	CreateRun(ctx context.Context, exec *domain.TaskExecution, graph *domain.TaskGraph) error
	RecordStep(ctx context.Context, taskID string, entry domain.StepLogEntry) error
	FinishRun(ctx context.Context, exec *domain.TaskExecution) error
}

// SessionFactory opens the browser session for one task.
type SessionFactory func(taskID string) browser.StepExecutor

// Executor runs one task graph at a time per call; independent tasks run on
// independent goroutines. Nodes within a graph are strictly sequential
// because the browser session serves one action at a time.
type Executor struct {
	store         redis.ExecutionStore
	reporter      *Reporter
	bc            *broadcast.Broadcaster
	registry      *Registry
	newSession    SessionFactory
	interventions *intervention.Manager
	audit         RunRecorder
	logger        *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithInterventions enables the human-in-the-loop path. Without it, a
// strategy that requires a human fails the task instead.
func WithInterventions(mgr *intervention.Manager) Option {
	return func(e *Executor) { e.interventions = mgr }
}

// WithAudit enables the durable run audit trail.
func WithAudit(rec RunRecorder) Option {
	return func(e *Executor) { e.audit = rec }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor.
func New(store redis.ExecutionStore, bc *broadcast.Broadcaster, registry *Registry, newSession SessionFactory, opts ...Option) *Executor {
	e := &Executor{
		store:      store,
		reporter:   NewReporter(store, bc),
		bc:         bc,
		registry:   registry,
		newSession: newSession,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reporter exposes the shared progress arithmetic for the remote step path.
func (e *Executor) Reporter() *Reporter { return e.reporter }

// ExecuteTask drives the graph to a terminal state. The returned execution
// reflects the terminal record; a non-nil error is reserved for
// infrastructure failures (the state store being unreachable), never for
// task-level failures, which are reported through the execution status.
func (e *Executor) ExecuteTask(ctx context.Context, taskID, prompt string, graph *domain.TaskGraph) (*domain.TaskExecution, error) {
	telemetry.TasksInFlight.Inc()
	defer telemetry.TasksInFlight.Dec()

	now := time.Now().UTC()
	exec := &domain.TaskExecution{
		TaskID:          taskID,
		Prompt:          prompt,
		Status:          domain.ExecRunning,
		ProgressPercent: 5,
		TotalSteps:      len(graph.Nodes),
		Results:         make(map[string]map[string]any),
		StartedAt:       &now,
	}
	if err := e.store.Put(ctx, exec); err != nil {
		return nil, fmt.Errorf("record execution start: %w", err)
	}
	if e.audit != nil {
		if err := e.audit.CreateRun(ctx, exec, graph); err != nil {
			e.logger.Warn("audit create failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}
	e.bc.Broadcast(ctx, taskID, domain.Event{
		Type:     domain.EventTaskStarted,
		Progress: 5,
		Message:  graph.GoalSummary,
	})

	if len(graph.Nodes) == 0 {
		return e.finish(ctx, taskID, func(ex *domain.TaskExecution) {
			done := time.Now().UTC()
			ex.Status = domain.ExecCompleted
			ex.ProgressPercent = 100
			ex.CompletedAt = &done
		}, domain.Event{Type: domain.EventTaskCompleted, Progress: 100, Message: "nothing to execute"})
	}

	session := e.newSession(taskID)
	if err := session.Launch(ctx); err != nil {
		return e.fail(ctx, taskID, "browser session unavailable: "+err.Error())
	}
	// The session is released on every path out of this function.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			e.logger.Warn("session close failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}()

	recoverer := recovery.NewAgent(session, e.logger)
	completed := make(map[string]struct{}, len(graph.Nodes))

	for len(completed) < len(graph.Nodes) {
		cancelled, err := e.store.CancelRequested(ctx, taskID)
		if err != nil {
			e.logger.Warn("cancel check failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
		if cancelled {
			return e.finish(ctx, taskID, func(ex *domain.TaskExecution) {
				done := time.Now().UTC()
				ex.Status = domain.ExecCancelled
				ex.CompletedAt = &done
			}, domain.Event{Type: domain.EventTaskCancelled, Message: "cancelled by request"})
		}

		frontier := planner.ReadyNodes(graph, completed)
		if len(frontier) == 0 {
			deadlock := &domain.DeadlockError{TaskID: taskID, Completed: len(completed), Total: len(graph.Nodes)}
			return e.fail(ctx, taskID, deadlock.Error())
		}

		recompute := false
		for _, node := range frontier {
			outcome, err := e.runNode(ctx, taskID, node, recoverer, session)
			if err != nil {
				return nil, err
			}
			switch outcome.kind {
			case nodeCompleted:
				completed[node.ID] = struct{}{}
			case nodeRetry:
				// The node stays pending; recompute the frontier so its
				// siblings are re-evaluated against fresh state.
				recompute = true
			case nodeFatal:
				return e.fail(ctx, taskID, outcome.message)
			}
			if recompute {
				break
			}
		}
	}

	final, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("read terminal execution: %w", err)
	}
	telemetry.TasksExecuted.WithLabelValues(string(final.Status)).Inc()
	if e.audit != nil {
		if err := e.audit.FinishRun(ctx, final); err != nil {
			e.logger.Warn("audit finish failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}
	e.logger.Info("task execution finished",
		slog.String("task_id", taskID),
		slog.String("status", string(final.Status)),
	)
	return final, nil
}

type outcomeKind int

const (
	nodeCompleted outcomeKind = iota
	nodeRetry
	nodeFatal
)

type nodeOutcome struct {
	kind    outcomeKind
	message string
}

func (e *Executor) runNode(ctx context.Context, taskID string, node *domain.DAGNode, recoverer *recovery.Agent, session browser.StepExecutor) (nodeOutcome, error) {
	node.Status = domain.NodeRunning
	if _, err := e.store.Update(ctx, taskID, func(ex *domain.TaskExecution) error {
		ex.CurrentStep = node.Name
		return nil
	}); err != nil {
		return nodeOutcome{}, fmt.Errorf("record step start: %w", err)
	}
	e.bc.Broadcast(ctx, taskID, domain.Event{
		Type:    domain.EventStepStarted,
		StepID:  node.ID,
		Message: node.Name,
	})

	start := time.Now()
	data, errMsg, pageContext := e.executeNode(ctx, taskID, node, session)
	durationMs := time.Since(start).Milliseconds()
	telemetry.NodeDurationSeconds.WithLabelValues(string(node.Action)).Observe(time.Since(start).Seconds())

	if errMsg == "" {
		node.Status = domain.NodeCompleted
		exec, err := e.reporter.StepCompleted(ctx, taskID, node.ID, node.Name, node.Action, data, durationMs)
		if err != nil {
			return nodeOutcome{}, err
		}
		telemetry.NodesExecuted.WithLabelValues(string(node.Action), "completed").Inc()
		if e.audit != nil && len(exec.StepsLog) > 0 {
			_ = e.audit.RecordStep(ctx, taskID, exec.StepsLog[len(exec.StepsLog)-1])
		}
		return nodeOutcome{kind: nodeCompleted}, nil
	}

	if _, err := e.reporter.StepFailed(ctx, taskID, node.ID, node.Name, node.Action, errMsg, durationMs); err != nil {
		return nodeOutcome{}, err
	}
	telemetry.NodesExecuted.WithLabelValues(string(node.Action), "failed").Inc()
	return e.handleFailure(ctx, taskID, node, errMsg, pageContext, recoverer)
}

func (e *Executor) executeNode(ctx context.Context, taskID string, node *domain.DAGNode, session browser.StepExecutor) (data map[string]any, errMsg, pageContext string) {
	exec, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, "execution state unavailable: " + err.Error(), ""
	}

	if node.Action.Internal() {
		out, err := e.registry.Execute(ctx, ActionInput{
			Node:      node,
			Results:   exec.Results,
			Steps:     session,
			Heartbeat: e.heartbeat(taskID),
		})
		if err != nil {
			return nil, err.Error(), ""
		}
		return out, "", ""
	}

	step := map[string]any{"action": string(node.Action)}
	for k, v := range node.Payload {
		step[k] = v
	}
	result, err := session.ExecuteStep(ctx, step)
	if err != nil {
		return nil, err.Error(), ""
	}
	if !result.Success {
		page, _ := result.Data["page_text"].(string)
		return nil, result.Error, page
	}
	return result.Data, "", ""
}

// heartbeat returns a callback that re-stamps the execution's updated_at so
// the stale-execution sweep sees the task as live while a long-running node
// is still making progress.
func (e *Executor) heartbeat(taskID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if _, err := e.store.Update(ctx, taskID, func(*domain.TaskExecution) error { return nil }); err != nil {
			e.logger.Warn("heartbeat refresh failed",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleFailure applies the retry/recovery/intervention policy for one
// failed attempt.
func (e *Executor) handleFailure(ctx context.Context, taskID string, node *domain.DAGNode, errMsg, pageContext string, recoverer *recovery.Agent) (nodeOutcome, error) {
	node.RetryCount++

	fc := domain.FailureContext{
		FailureType:   recovery.Classify(errors.New(errMsg), pageContext),
		ErrorMessage:  errMsg,
		Selector:      stringField(node.Payload, "selector"),
		StepName:      node.Name,
		AttemptNumber: node.RetryCount,
		MaxAttempts:   node.MaxRetries,
		Timestamp:     time.Now().UTC(),
	}
	strategy := recovery.SelectStrategy(fc)

	e.logger.Info("step failed",
		slog.String("task_id", taskID),
		slog.String("node", node.Name),
		slog.String("failure_type", string(fc.FailureType)),
		slog.Int("attempt", node.RetryCount),
		slog.Bool("requires_human", strategy.RequiresHuman),
	)

	if strategy.RequiresHuman {
		return e.awaitHuman(ctx, taskID, node, fc, strategy)
	}

	result := recoverer.ExecuteRecovery(ctx, fc, strategy)
	if result.ShouldRetry && node.RetryCount < node.MaxRetries {
		node.Status = domain.NodePending
		return nodeOutcome{kind: nodeRetry}, nil
	}
	node.Status = domain.NodeFailed
	if result.ShouldRetry {
		// Retries exhausted without a human path on offer.
		return nodeOutcome{kind: nodeFatal, message: fmt.Sprintf("step %q failed after %d attempts: %s", node.Name, node.RetryCount, errMsg)}, nil
	}
	return nodeOutcome{kind: nodeFatal, message: fmt.Sprintf("step %q failed: %s", node.Name, errMsg)}, nil
}

// awaitHuman parks the execution in waiting_intervention and blocks until
// the request resolves. A usable response resets the node for a fresh round
// of attempts; anything else fails the task.
func (e *Executor) awaitHuman(ctx context.Context, taskID string, node *domain.DAGNode, fc domain.FailureContext, strategy domain.RecoveryStrategy) (nodeOutcome, error) {
	if e.interventions == nil {
		node.Status = domain.NodeFailed
		return nodeOutcome{kind: nodeFatal, message: fmt.Sprintf("step %q needs human input but none is available: %s", node.Name, fc.ErrorMessage)}, nil
	}

	if _, err := e.store.Update(ctx, taskID, func(ex *domain.TaskExecution) error {
		ex.Status = domain.ExecWaitingIntervention
		return nil
	}); err != nil {
		return nodeOutcome{}, fmt.Errorf("record intervention wait: %w", err)
	}

	req, err := e.interventions.Create(ctx, &domain.InterventionRequest{
		TaskID:   taskID,
		Type:     interventionTypeFor(fc.FailureType),
		Title:    "Help needed: " + node.Name,
		Message:  strategy.Message,
		Priority: domain.PriorityHigh,
		Context: map[string]any{
			"node_id":      node.ID,
			"failure_type": fc.FailureType,
			"error":        fc.ErrorMessage,
		},
	})
	if err != nil {
		return nodeOutcome{kind: nodeFatal, message: fmt.Sprintf("step %q needs human input but the request could not be created: %s", node.Name, err)}, nil
	}

	response, ok := e.interventions.WaitForResponse(ctx, req.ID, req.Timeout)
	if !ok {
		node.Status = domain.NodeFailed
		return nodeOutcome{kind: nodeFatal, message: fmt.Sprintf("step %q: human intervention %s was not completed", node.Name, req.ID)}, nil
	}

	// The human unblocked the node; give it a fresh retry budget.
	node.RetryCount = 0
	node.Status = domain.NodePending
	if _, err := e.store.Update(ctx, taskID, func(ex *domain.TaskExecution) error {
		ex.Status = domain.ExecRunning
		return nil
	}); err != nil {
		return nodeOutcome{}, fmt.Errorf("resume after intervention: %w", err)
	}
	e.logger.Info("intervention resolved, resuming",
		slog.String("task_id", taskID),
		slog.String("intervention_id", req.ID),
		slog.Int("response_fields", len(response)),
	)
	return nodeOutcome{kind: nodeRetry}, nil
}

func interventionTypeFor(ft domain.FailureType) domain.InterventionType {
	switch ft {
	case domain.FailureCaptcha:
		return domain.InterventionCaptcha
	case domain.FailureTwoFactor:
		return domain.InterventionTwoFactor
	case domain.FailureLoginRequired, domain.FailureSessionExpired:
		return domain.InterventionLogin
	default:
		return domain.InterventionManualReview
	}
}

// fail moves the execution to failed and returns the terminal record.
func (e *Executor) fail(ctx context.Context, taskID, message string) (*domain.TaskExecution, error) {
	exec, err := e.reporter.TaskFailed(ctx, taskID, message)
	if err != nil {
		var already *domain.TaskAlreadyProcessedError
		if errors.As(err, &already) {
			return e.store.Get(ctx, taskID)
		}
		return nil, err
	}
	telemetry.TasksExecuted.WithLabelValues(string(domain.ExecFailed)).Inc()
	if e.audit != nil {
		_ = e.audit.FinishRun(ctx, exec)
	}
	return exec, nil
}

// finish applies a terminal mutation and broadcasts the matching event.
func (e *Executor) finish(ctx context.Context, taskID string, mutate func(*domain.TaskExecution), event domain.Event) (*domain.TaskExecution, error) {
	exec, err := e.store.Update(ctx, taskID, func(ex *domain.TaskExecution) error {
		if ex.Status.IsTerminal() {
			return nil
		}
		mutate(ex)
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.TasksExecuted.WithLabelValues(string(exec.Status)).Inc()
	e.bc.Broadcast(ctx, taskID, event)
	if e.audit != nil {
		_ = e.audit.FinishRun(ctx, exec)
	}
	return exec, nil
}

// Cancel requests cooperative cancellation. The running executor observes the
// flag at its next frontier boundary; an in-flight step always finishes
// first.
func (e *Executor) Cancel(ctx context.Context, taskID string) error {
	exec, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return &domain.TaskAlreadyProcessedError{TaskID: taskID, Status: exec.Status}
	}
	return e.store.RequestCancel(ctx, taskID)
}
