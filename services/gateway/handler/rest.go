package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/executor"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intent"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/kafka"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/planner"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/postgres"
	redisstore "github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

// REST handles HTTP requests for the gateway.
type REST struct {
	producer      kafka.Producer
	store         redisstore.ExecutionStore
	interventions *intervention.Manager
	reporter      *executor.Reporter
	repo          postgres.RunRepository
	limiter       redisstore.RateLimiter
	compiler      intent.Compiler
	logger        *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(
	producer kafka.Producer,
	store redisstore.ExecutionStore,
	interventions *intervention.Manager,
	reporter *executor.Reporter,
	repo postgres.RunRepository,
	limiter redisstore.RateLimiter,
	logger *slog.Logger,
) *REST {
	return &REST{
		producer:      producer,
		store:         store,
		interventions: interventions,
		reporter:      reporter,
		repo:          repo,
		limiter:       limiter,
		compiler:      intent.NewCompiler(),
		logger:        logger,
	}
}

// SubmitTaskRequest is the JSON body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Prompt string `json:"prompt"`
}

// SubmitTaskResponse is the 202 response body.
type SubmitTaskResponse struct {
	TaskID    string       `json:"task_id"`
	Status    string       `json:"status"`
	Goal      *domain.Goal `json:"goal,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// SubmitTask handles POST /api/v1/tasks. The prompt is compiled up front so
// the caller gets the parsed goal back, then the submission is queued for the
// orchestrator.
func (h *REST) SubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("gateway").Start(r.Context(), "gateway.submit_task")
	defer span.End()

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "field 'prompt' is required")
		return
	}

	limitKey := clientKey(r)
	allowed, err := h.limiter.Allow(ctx, limitKey)
	if err != nil {
		h.logger.Error("rate limiter error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, (&domain.RateLimitExceededError{Key: limitKey, Limit: h.limiter.Limit()}).Error())
		return
	}

	goal, err := h.compiler.Compile(req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := uuid.New().String()
	now := time.Now().UTC()

	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("goal.action", string(goal.Action)),
	)

	// Seed the execution record so status queries resolve before the
	// orchestrator picks the task up.
	exec := &domain.TaskExecution{
		TaskID:    taskID,
		Prompt:    req.Prompt,
		Status:    domain.ExecPending,
		UpdatedAt: now,
	}
	if err := h.store.Put(ctx, exec); err != nil {
		h.logger.Error("failed to seed execution", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	submission := domain.GoalSubmission{
		TaskID:      taskID,
		Prompt:      req.Prompt,
		Goal:        goal,
		SubmittedAt: now,
	}
	payload, err := json.Marshal(submission)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize submission")
		return
	}

	// task_id as message key keeps per-task ordering.
	if err := h.producer.Publish(ctx, kafka.TopicGoalsPending, taskID, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("failed to publish submission", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	telemetry.GatewayTasksSubmitted.WithLabelValues(string(goal.Action)).Inc()
	h.logger.Info("task submitted",
		slog.String("task_id", taskID),
		slog.String("action", string(goal.Action)),
		slog.String("role", goal.Role),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTaskResponse{
		TaskID:    taskID,
		Status:    string(domain.ExecPending),
		Goal:      goal,
		CreatedAt: now,
	})
}

// PlanPreviewRequest is the JSON body for POST /api/v1/tasks/plan.
type PlanPreviewRequest struct {
	Prompt string `json:"prompt"`
}

// PlanPreview handles POST /api/v1/tasks/plan. It compiles the prompt and
// builds the task graph without executing anything.
func (h *REST) PlanPreview(w http.ResponseWriter, r *http.Request) {
	var req PlanPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "field 'prompt' is required")
		return
	}

	goal, err := h.compiler.Compile(req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	graph, err := planner.BuildGraph(goal)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"goal":  goal,
		"graph": graph,
	})
}

// GetTaskStatus handles GET /api/v1/tasks/{id}.
func (h *REST) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	ctx := r.Context()

	exec, err := h.store.Get(ctx, taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if !errors.As(err, &notFound) {
			h.logger.Error("redis error", slog.String("task_id", taskID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to retrieve task")
			return
		}

		// Redis record expired. Fall back to the audit trail.
		run, err := h.repo.GetRun(ctx, taskID)
		if err != nil {
			if errors.As(err, &notFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			h.logger.Error("postgres error", slog.String("task_id", taskID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to retrieve task")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.StatusSnapshot{
			TaskID:          run.TaskID,
			Status:          run.Status,
			ProgressPercent: run.Progress,
			CompletedSteps:  run.CompletedSteps,
			TotalSteps:      run.TotalSteps,
			ErrorMessage:    run.Error,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exec.Snapshot())
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel. The flag is picked up by
// the orchestrator at the next frontier boundary.
func (h *REST) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	ctx := r.Context()

	exec, err := h.store.Get(ctx, taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("redis error", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if exec.Status.IsTerminal() {
		writeError(w, http.StatusConflict, (&domain.TaskAlreadyProcessedError{TaskID: taskID, Status: exec.Status}).Error())
		return
	}

	if err := h.store.RequestCancel(ctx, taskID); err != nil {
		h.logger.Error("failed to request cancel", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	h.logger.Info("cancel requested", slog.String("task_id", taskID))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"task_id": taskID, "status": "cancel_requested"})
}

// ReportStepRequest is the JSON body for POST /api/v1/tasks/{id}/steps/{stepID}.
// It lets an out-of-process step runner report completion through the same
// progress arithmetic the executor applies.
type ReportStepRequest struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ReportStep handles POST /api/v1/tasks/{id}/steps/{stepID}.
func (h *REST) ReportStep(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var req ReportStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := h.reporter.ReportStep(r.Context(), taskID, stepID, req.Success, req.Data, req.Error)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		var processed *domain.TaskAlreadyProcessedError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.As(err, &processed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("report step failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to report step")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exec.Snapshot())
}

// ListInterventions handles GET /api/v1/interventions. With ?recent=N it
// returns the most recently created requests instead of the pending set.
func (h *REST) ListInterventions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		reqs []*domain.InterventionRequest
		err  error
	)
	if recent := r.URL.Query().Get("recent"); recent != "" {
		limit := 20
		if n, convErr := parsePositiveInt(recent); convErr == nil {
			limit = n
		}
		reqs, err = h.interventions.Recent(ctx, limit)
	} else {
		reqs, err = h.interventions.Pending(ctx)
	}
	if err != nil {
		h.logger.Error("list interventions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list interventions")
		return
	}
	if reqs == nil {
		reqs = []*domain.InterventionRequest{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"interventions": reqs})
}

// GetIntervention handles GET /api/v1/interventions/{id}.
func (h *REST) GetIntervention(w http.ResponseWriter, r *http.Request) {
	req, err := h.interventions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInterventionError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// AcknowledgeIntervention handles POST /api/v1/interventions/{id}/acknowledge.
func (h *REST) AcknowledgeIntervention(w http.ResponseWriter, r *http.Request) {
	req, err := h.interventions.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInterventionError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// CompleteInterventionRequest is the JSON body for completing an intervention.
type CompleteInterventionRequest struct {
	Response map[string]any `json:"response"`
}

// CompleteIntervention handles POST /api/v1/interventions/{id}/complete.
func (h *REST) CompleteIntervention(w http.ResponseWriter, r *http.Request) {
	var body CompleteInterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.interventions.Complete(r.Context(), chi.URLParam(r, "id"), body.Response)
	if err != nil {
		writeInterventionError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// CancelIntervention handles POST /api/v1/interventions/{id}/cancel.
func (h *REST) CancelIntervention(w http.ResponseWriter, r *http.Request) {
	req, err := h.interventions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInterventionError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// ListRuns handles GET /api/v1/runs — the persisted audit trail.
func (h *REST) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := parsePositiveInt(q); err == nil {
			limit = n
		}
	}

	runs, err := h.repo.ListRecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*postgres.RunRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks Redis connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.Get(ctx, "__readyz__"); err != nil {
		var notFound *domain.TaskNotFoundError
		if !errors.As(err, &notFound) {
			writeError(w, http.StatusServiceUnavailable, "redis not ready")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeInterventionError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var notFound *domain.InterventionNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "intervention not found")
		return
	}
	logger.Error("intervention request failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "intervention request failed")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// clientKey buckets submitters by remote IP for rate limiting.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
