package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Gateway ─────────────────────────────────────────────────────────────────

	GatewayTasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "gateway",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks submitted through the gateway.",
	}, []string{"action"})

	GatewayWSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobagent",
		Subsystem: "gateway",
		Name:      "ws_connections",
		Help:      "Currently open websocket connections.",
	})

	// ─── Executor ────────────────────────────────────────────────────────────────

	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "executor",
		Name:      "tasks_executed_total",
		Help:      "Total task executions, labelled by terminal status.",
	}, []string{"status"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobagent",
		Subsystem: "executor",
		Name:      "tasks_inflight",
		Help:      "Task graphs currently being driven.",
	})

	NodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "executor",
		Name:      "nodes_executed_total",
		Help:      "Total node executions, labelled by action and outcome.",
	}, []string{"action", "outcome"})

	NodeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobagent",
		Subsystem: "executor",
		Name:      "node_duration_seconds",
		Help:      "Per-node execution time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
	}, []string{"action"})

	// ─── Recovery ────────────────────────────────────────────────────────────────

	RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "recovery",
		Name:      "attempts_total",
		Help:      "Total recovery strategy executions, labelled by failure type.",
	}, []string{"failure_type"})

	// ─── Intervention ────────────────────────────────────────────────────────────

	InterventionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "intervention",
		Name:      "created_total",
		Help:      "Total intervention requests created, labelled by type.",
	}, []string{"type"})

	InterventionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "intervention",
		Name:      "resolved_total",
		Help:      "Total interventions resolved, labelled by terminal status.",
	}, []string{"status"})

	InterventionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobagent",
		Subsystem: "intervention",
		Name:      "wait_seconds",
		Help:      "Time a task spent blocked waiting for a human response.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// ─── Broadcast ───────────────────────────────────────────────────────────────

	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "broadcast",
		Name:      "events_total",
		Help:      "Total events broadcast, labelled by event type.",
	}, []string{"type"})

	BroadcastDroppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "broadcast",
		Name:      "dropped_subscribers_total",
		Help:      "Subscribers dropped because delivery failed or stalled.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweeperInterventionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "sweeper",
		Name:      "interventions_expired_total",
		Help:      "Interventions moved to TIMEOUT by the sweeper.",
	})

	SweeperExecutionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobagent",
		Subsystem: "sweeper",
		Name:      "executions_failed_total",
		Help:      "Stale executions failed by the sweeper.",
	})
)
