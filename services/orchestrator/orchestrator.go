// Package orchestrator consumes goal submissions from Kafka and drives them
// through planning and DAG execution.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/executor"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intent"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/kafka"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/planner"
	redisstore "github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
)

// Orchestrator consumes goal submissions and executes their task graphs.
type Orchestrator struct {
	consumer    kafka.Consumer
	producer    kafka.Producer
	store       redisstore.ExecutionStore
	exec        *executor.Executor
	compiler    intent.Compiler
	instanceID  string
	taskTimeout time.Duration
	logger      *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option       { return func(o *Orchestrator) { o.logger = l } }
func WithTaskTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.taskTimeout = d } }
func WithCompiler(c intent.Compiler) Option  { return func(o *Orchestrator) { o.compiler = c } }

// New constructs an Orchestrator with the given dependencies and options.
func New(
	instanceID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	store redisstore.ExecutionStore,
	exec *executor.Executor,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		instanceID:  instanceID,
		consumer:    consumer,
		producer:    producer,
		store:       store,
		exec:        exec,
		compiler:    intent.NewCompiler(),
		taskTimeout: 30 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts consuming and processing submissions. Blocks until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.consumer.Subscribe(ctx, o.processMessage)
}

// Wait blocks until all in-flight tasks finish. Call after Run returns.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// processMessage is the Kafka HandlerFunc, called once per submission.
// It returns nil for every outcome the pipeline itself decides (success,
// planning failure, poison message) so the offset is committed; only
// infrastructure errors skip the commit and force re-delivery.
func (o *Orchestrator) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var sub domain.GoalSubmission
	if err := json.Unmarshal(msg.Value, &sub); err != nil || sub.TaskID == "" {
		o.logger.Error("malformed submission, sending to DLQ",
			slog.String("raw", string(msg.Value)),
		)
		o.deadLetter(consumerCtx, string(msg.Key), msg.Value)
		return nil
	}

	ctx, span := otel.Tracer("orchestrator").Start(consumerCtx, "orchestrator.process_submission")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", sub.TaskID),
		attribute.String("orchestrator.id", o.instanceID),
	)

	log := o.logger.With(
		slog.String("task_id", sub.TaskID),
		slog.String("instance_id", o.instanceID),
	)

	// Idempotency: a re-delivered submission whose execution already reached
	// a terminal state is skipped.
	if exec, err := o.store.Get(ctx, sub.TaskID); err == nil && exec.Status.IsTerminal() {
		processed := &domain.TaskAlreadyProcessedError{TaskID: sub.TaskID, Status: exec.Status}
		log.Info("submission already processed, skipping", slog.String("error", processed.Error()))
		span.RecordError(processed)
		return nil
	}

	goal := sub.Goal
	if goal == nil {
		compiled, err := o.compiler.Compile(sub.Prompt)
		if err != nil {
			log.Error("intent compilation failed", slog.String("error", err.Error()))
			span.RecordError(err)
			o.failSubmission(ctx, &sub, "could not understand the request: "+err.Error())
			o.deadLetter(ctx, sub.TaskID, msg.Value)
			return nil
		}
		goal = compiled
	}

	graph, err := planner.BuildGraph(goal)
	if err != nil {
		log.Error("planning failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		o.failSubmission(ctx, &sub, "planning failed: "+err.Error())
		o.deadLetter(ctx, sub.TaskID, msg.Value)
		return nil
	}

	o.wg.Add(1)
	o.inFlight.Add(1)
	defer func() {
		o.inFlight.Add(-1)
		o.wg.Done()
	}()

	// Execution runs on a fresh context so consumer shutdown drains the task
	// instead of aborting it mid-step; the span stays parented for tracing.
	execCtx, cancel := context.WithTimeout(
		trace.ContextWithSpan(context.Background(), span),
		o.taskTimeout,
	)
	defer cancel()

	start := time.Now()
	exec, execErr := o.exec.ExecuteTask(execCtx, sub.TaskID, sub.Prompt, graph)
	if execErr != nil {
		var processed *domain.TaskAlreadyProcessedError
		if errors.As(execErr, &processed) {
			log.Info("execution already terminal", slog.String("error", execErr.Error()))
			return nil
		}
		// Store or broadcast infrastructure failed; leave the offset
		// uncommitted so the submission is re-delivered.
		log.Error("execution infrastructure error", slog.String("error", execErr.Error()))
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "execution infrastructure error")
		return execErr
	}

	log.Info("task finished",
		slog.String("status", string(exec.Status)),
		slog.Int("completed_steps", exec.CompletedSteps),
		slog.Int("total_steps", exec.TotalSteps),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// failSubmission records a terminal failure for submissions that never made
// it to execution, so status queries and live observers see the outcome.
func (o *Orchestrator) failSubmission(ctx context.Context, sub *domain.GoalSubmission, reason string) {
	if _, err := o.store.Get(ctx, sub.TaskID); err != nil {
		var notFound *domain.TaskNotFoundError
		if !errors.As(err, &notFound) {
			o.logger.Error("failed to read execution", slog.String("task_id", sub.TaskID), slog.String("error", err.Error()))
			return
		}
		seed := &domain.TaskExecution{
			TaskID: sub.TaskID,
			Prompt: sub.Prompt,
			Status: domain.ExecPending,
		}
		if err := o.store.Put(ctx, seed); err != nil {
			o.logger.Error("failed to seed execution", slog.String("task_id", sub.TaskID), slog.String("error", err.Error()))
			return
		}
	}

	if _, err := o.exec.Reporter().TaskFailed(ctx, sub.TaskID, reason); err != nil {
		var processed *domain.TaskAlreadyProcessedError
		if !errors.As(err, &processed) {
			o.logger.Error("failed to record submission failure", slog.String("task_id", sub.TaskID), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) deadLetter(ctx context.Context, key string, value []byte) {
	if err := o.producer.Publish(ctx, kafka.TopicGoalsDLQ, key, value); err != nil {
		o.logger.Error("failed to publish to DLQ", slog.String("key", key), slog.String("error", err.Error()))
	}
}
