// Package sweeper runs background sweeps over Redis state: interventions
// past their deadline are marked TIMEOUT and executions whose heartbeat went
// stale are failed. A Redis leader lock keeps exactly one instance sweeping.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/executor"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	redisstore "github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

const (
	leaderKey = "sweeper:leader"
	leaderTTL = 30 * time.Second
)

// Elector grants periodic leadership to one instance among many.
type Elector interface {
	AcquireOrRenew(ctx context.Context) bool
}

// RedisElector implements leader election with SETNX and an owner-checked
// renewal script.
type RedisElector struct {
	client     *redis.Client
	instanceID string
	logger     *slog.Logger
}

// NewRedisElector returns an Elector backed by the given Redis client.
func NewRedisElector(client *redis.Client, instanceID string, logger *slog.Logger) *RedisElector {
	return &RedisElector{client: client, instanceID: instanceID, logger: logger}
}

// AcquireOrRenew attempts SETNX; returns true if this instance is the leader.
func (e *RedisElector) AcquireOrRenew(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, leaderKey, e.instanceID, leaderTTL).Result()
	if err != nil {
		e.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		e.logger.Info("acquired sweeper leadership", slog.String("instance_id", e.instanceID))
		return true
	}

	// Already set, renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, e.client,
		[]string{leaderKey},
		e.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Sweeper owns the periodic sweep passes.
type Sweeper struct {
	elector       Elector
	execs         redisstore.ExecutionStore
	intStore      redisstore.InterventionStore
	interventions *intervention.Manager
	reporter      *executor.Reporter
	staleAfter    time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option      { return func(s *Sweeper) { s.logger = l } }
func WithStaleAfter(d time.Duration) Option { return func(s *Sweeper) { s.staleAfter = d } }
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// New constructs a Sweeper.
func New(
	elector Elector,
	execs redisstore.ExecutionStore,
	intStore redisstore.InterventionStore,
	interventions *intervention.Manager,
	reporter *executor.Reporter,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		elector:       elector,
		execs:         execs,
		intStore:      intStore,
		interventions: interventions,
		reporter:      reporter,
		staleAfter:    15 * time.Minute,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the given cron schedule (standard five-field expressions and
// descriptors like "@every 30s"). Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return err
	}

	// One pass immediately so a fresh deploy does not wait a full interval.
	s.Tick(ctx)

	for {
		next := sched.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass if this instance holds leadership.
func (s *Sweeper) Tick(ctx context.Context) {
	if !s.elector.AcquireOrRenew(ctx) {
		return
	}
	s.sweepInterventions(ctx)
	s.sweepExecutions(ctx)
}

// sweepInterventions moves pending requests past their deadline to TIMEOUT so
// dashboards and blocked executors observe the expiry.
func (s *Sweeper) sweepInterventions(ctx context.Context) {
	ids, err := s.intStore.PendingIDs(ctx)
	if err != nil {
		s.logger.Error("list pending interventions", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, id := range ids {
		req, err := s.intStore.Get(ctx, id)
		if err != nil {
			var notFound *domain.InterventionNotFoundError
			if !errors.As(err, &notFound) {
				s.logger.Error("read intervention", slog.String("id", id), slog.String("error", err.Error()))
			}
			continue
		}
		if !req.Expired(now) {
			continue
		}

		if _, expired, err := s.interventions.Expire(ctx, id); err != nil {
			s.logger.Error("expire intervention", slog.String("id", id), slog.String("error", err.Error()))
		} else if expired {
			telemetry.SweeperInterventionsExpired.Inc()
			s.logger.Info("intervention expired",
				slog.String("id", id),
				slog.String("task_id", req.TaskID),
				slog.String("type", string(req.Type)),
			)
		}
	}
}

// sweepExecutions fails active executions whose heartbeat is older than
// staleAfter, which means the owning orchestrator died mid-run.
func (s *Sweeper) sweepExecutions(ctx context.Context) {
	ids, err := s.execs.ActiveIDs(ctx)
	if err != nil {
		s.logger.Error("list active executions", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	for _, id := range ids {
		exec, err := s.execs.Get(ctx, id)
		if err != nil {
			var notFound *domain.TaskNotFoundError
			if !errors.As(err, &notFound) {
				s.logger.Error("read execution", slog.String("task_id", id), slog.String("error", err.Error()))
			}
			continue
		}
		if exec.Status.IsTerminal() || now.Sub(exec.UpdatedAt) < s.staleAfter {
			continue
		}

		_, err = s.reporter.TaskFailed(ctx, id, "execution heartbeat stale, executor presumed dead")
		if err != nil {
			var processed *domain.TaskAlreadyProcessedError
			if !errors.As(err, &processed) {
				s.logger.Error("fail stale execution", slog.String("task_id", id), slog.String("error", err.Error()))
			}
			continue
		}

		telemetry.SweeperExecutionsFailed.Inc()
		s.logger.Warn("stale execution failed",
			slog.String("task_id", id),
			slog.Time("last_heartbeat", exec.UpdatedAt),
		)
	}
}
