// Package intervention manages human-in-the-loop requests: creating them,
// resolving them and blocking task execution until a response arrives.
package intervention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

// DefaultTimeout applies when a request is created without one.
const DefaultTimeout = 5 * time.Minute

// pollInterval is the store re-check cadence used when the bus subscription
// cannot be established.
const pollInterval = 2 * time.Second

// Manager owns the intervention lifecycle. All state lives in the store so
// any process can resolve a request created by another.
type Manager struct {
	store  redis.InterventionStore
	bus    redis.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(store redis.InterventionStore, bus redis.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, bus: bus, logger: logger, now: time.Now}
}

// Create registers a new pending request and notifies the task's live
// observers. Missing fields are defaulted: timeout, priority and the input
// fields conventional for the intervention type.
func (m *Manager) Create(ctx context.Context, req *domain.InterventionRequest) (*domain.InterventionRequest, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityHigh
	}
	if len(req.InputFields) == 0 {
		req.InputFields = domain.DefaultInputFields(req.Type)
	}
	req.Status = domain.InterventionPending
	req.CreatedAt = m.now().UTC()

	if err := m.store.Put(ctx, req); err != nil {
		return nil, err
	}
	telemetry.InterventionsCreated.WithLabelValues(string(req.Type)).Inc()

	event := domain.Event{
		Type:    domain.EventInterventionRequired,
		Message: req.Message,
		Data: map[string]any{
			"intervention_id":   req.ID,
			"intervention_type": req.Type,
			"title":             req.Title,
			"priority":          req.Priority,
			"input_fields":      req.InputFields,
			"timeout_seconds":   int(req.Timeout.Seconds()),
		},
	}
	event.TaskID = req.TaskID
	event.Timestamp = m.now().UTC()
	if err := m.bus.Publish(ctx, redis.TaskChannel(req.TaskID), event); err != nil {
		m.logger.Warn("intervention notify failed",
			slog.String("intervention_id", req.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("intervention created",
		slog.String("intervention_id", req.ID),
		slog.String("task_id", req.TaskID),
		slog.String("type", string(req.Type)),
	)
	return req, nil
}

// Get returns one request by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.InterventionRequest, error) {
	return m.store.Get(ctx, id)
}

// Pending returns all unresolved requests. Records whose backing key expired
// are skipped.
func (m *Manager) Pending(ctx context.Context) ([]*domain.InterventionRequest, error) {
	ids, err := m.store.PendingIDs(ctx)
	if err != nil {
		return nil, err
	}
	reqs := make([]*domain.InterventionRequest, 0, len(ids))
	for _, id := range ids {
		req, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Recent returns up to limit most recently created requests, newest first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]*domain.InterventionRequest, error) {
	ids, err := m.store.RecentIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	reqs := make([]*domain.InterventionRequest, 0, len(ids))
	for _, id := range ids {
		req, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Acknowledge marks a pending request as seen by a human. Acknowledging a
// terminal request is a no-op.
func (m *Manager) Acknowledge(ctx context.Context, id string) (*domain.InterventionRequest, error) {
	return m.store.Update(ctx, id, func(req *domain.InterventionRequest) error {
		if req.Status.IsTerminal() {
			return nil
		}
		now := m.now().UTC()
		req.Status = domain.InterventionAcknowledged
		req.AcknowledgedAt = &now
		return nil
	})
}

// Complete records the human response and unblocks the waiting executor.
// Completing an already-terminal request changes nothing and keeps the
// original resolution.
func (m *Manager) Complete(ctx context.Context, id string, response map[string]any) (*domain.InterventionRequest, error) {
	var already bool
	req, err := m.store.Update(ctx, id, func(r *domain.InterventionRequest) error {
		if r.Status.IsTerminal() {
			already = true
			return nil
		}
		now := m.now().UTC()
		r.Status = domain.InterventionCompleted
		r.Response = response
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return req, nil
	}

	telemetry.InterventionsResolved.WithLabelValues(string(domain.InterventionCompleted)).Inc()
	m.publishResolution(ctx, req, domain.Event{
		Type:    domain.EventInterventionResponse,
		Message: "intervention completed",
		Data:    map[string]any{"intervention_id": req.ID, "status": req.Status, "response": response},
	})
	return req, nil
}

// Cancel resolves a request without a response. The waiting executor is
// released and treats the failure as unrecovered.
func (m *Manager) Cancel(ctx context.Context, id string) (*domain.InterventionRequest, error) {
	var already bool
	req, err := m.store.Update(ctx, id, func(r *domain.InterventionRequest) error {
		if r.Status.IsTerminal() {
			already = true
			return nil
		}
		now := m.now().UTC()
		r.Status = domain.InterventionCancelled
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return req, nil
	}

	telemetry.InterventionsResolved.WithLabelValues(string(domain.InterventionCancelled)).Inc()
	m.publishResolution(ctx, req, domain.Event{
		Type:    domain.EventInterventionResponse,
		Message: "intervention cancelled",
		Data:    map[string]any{"intervention_id": req.ID, "status": req.Status},
	})
	return req, nil
}

// Expire moves a past-deadline request to timeout. Used by the sweeper; a
// request resolved in the meantime is left untouched.
func (m *Manager) Expire(ctx context.Context, id string) (*domain.InterventionRequest, bool, error) {
	return m.markTimeout(ctx, id, false)
}

// markTimeout transitions a live request to timeout. With force set the
// stored deadline is ignored, for waiters whose own timeout is shorter than
// the request's.
func (m *Manager) markTimeout(ctx context.Context, id string, force bool) (*domain.InterventionRequest, bool, error) {
	var expired bool
	req, err := m.store.Update(ctx, id, func(r *domain.InterventionRequest) error {
		if r.Status.IsTerminal() || (!force && !r.Expired(m.now())) {
			return nil
		}
		now := m.now().UTC()
		r.Status = domain.InterventionTimeout
		r.CompletedAt = &now
		expired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		telemetry.InterventionsResolved.WithLabelValues(string(domain.InterventionTimeout)).Inc()
		m.publishResolution(ctx, req, domain.Event{
			Type:    domain.EventInterventionResponse,
			Message: "intervention timed out",
			Data:    map[string]any{"intervention_id": req.ID, "status": req.Status},
		})
	}
	return req, expired, nil
}

func (m *Manager) publishResolution(ctx context.Context, req *domain.InterventionRequest, event domain.Event) {
	event.Timestamp = m.now().UTC()
	if err := m.bus.Publish(ctx, redis.InterventionChannel(req.ID), event); err != nil {
		m.logger.Warn("resolution publish failed",
			slog.String("intervention_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	taskEvent := event
	taskEvent.TaskID = req.TaskID
	if err := m.bus.Publish(ctx, redis.TaskChannel(req.TaskID), taskEvent); err != nil {
		m.logger.Warn("resolution publish failed",
			slog.String("task_id", req.TaskID),
			slog.String("error", err.Error()),
		)
	}
}

// WaitForResponse blocks until the request resolves or timeout elapses. It
// returns the human response and true on completion, or nil and false on
// cancel, timeout or context end. A timeout marks the stored request as
// timed out before returning so status queries agree with the executor.
func (m *Manager) WaitForResponse(ctx context.Context, id string, timeout time.Duration) (map[string]any, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	started := m.now()
	defer func() {
		telemetry.InterventionWaitSeconds.Observe(m.now().Sub(started).Seconds())
	}()

	// Subscribe before re-reading the store so a resolution arriving between
	// the two cannot be missed.
	var events <-chan redis.Message
	sub, err := m.bus.Subscribe(ctx, redis.InterventionChannel(id))
	if err != nil {
		m.logger.Warn("resolution subscribe failed, falling back to polling",
			slog.String("intervention_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		defer sub.Close()
		events = sub.C()
	}

	if response, done, ok := m.checkResolved(ctx, id); done {
		return response, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false

		case <-timer.C:
			if _, _, err := m.markTimeout(ctx, id, true); err != nil {
				m.logger.Warn("timeout marking failed",
					slog.String("intervention_id", id),
					slog.String("error", err.Error()),
				)
			}
			return nil, false

		case <-poll.C:
			// Safety net in case the resolution event was not delivered.
			if response, done, ok := m.checkResolved(ctx, id); done {
				return response, ok
			}

		case _, open := <-events:
			if !open {
				events = nil
				continue
			}
			// The event signals resolution; the store holds the truth.
			if response, done, ok := m.checkResolved(ctx, id); done {
				return response, ok
			}
		}
	}
}

// checkResolved reads the stored request. done reports whether waiting can
// stop; ok reports whether a usable response exists.
func (m *Manager) checkResolved(ctx context.Context, id string) (response map[string]any, done, ok bool) {
	req, err := m.store.Get(ctx, id)
	if err != nil {
		// An expired record means the request timed out long ago.
		var nf *domain.InterventionNotFoundError
		if errors.As(err, &nf) {
			return nil, true, false
		}
		return nil, false, false
	}
	if !req.Status.IsTerminal() {
		return nil, false, false
	}
	if req.Status == domain.InterventionCompleted {
		return req.Response, true, true
	}
	return nil, true, false
}
