// Package broadcast fans task events out to live observers. Events travel
// through the Redis bus so observers connected to any gateway instance see
// events produced by any orchestrator instance.
package broadcast

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

// Subscriber receives events for the tasks it subscribed to. Send must be
// safe for concurrent use; a non-nil error drops the subscriber.
type Subscriber interface {
	Send(event domain.Event) error
}

// Broadcaster routes task events to local subscribers and onto the bus.
type Broadcaster struct {
	bus      redis.Bus
	logger   *slog.Logger
	instance string

	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{}

	startOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. Call StartListener on instances that
// serve subscribers.
func NewBroadcaster(bus redis.Bus, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bus:      bus,
		logger:   logger,
		instance: uuid.New().String(),
		subs:     make(map[string]map[Subscriber]struct{}),
	}
}

// Subscribe registers sub for events about taskID and acknowledges the
// subscription immediately.
func (b *Broadcaster) Subscribe(taskID string, sub Subscriber) {
	b.mu.Lock()
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.subs[taskID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	ack := domain.Event{
		Type:      domain.EventSubscribed,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Message:   "subscribed to task updates",
	}
	if err := sub.Send(ack); err != nil {
		b.Unsubscribe(taskID, sub)
	}
}

// Unsubscribe removes sub from taskID's set. Unknown pairs are ignored.
func (b *Broadcaster) Unsubscribe(taskID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[taskID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, taskID)
		}
	}
}

// SubscriberCount reports the local subscribers for one task.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

// Broadcast stamps the event, delivers it to local subscribers and publishes
// it on the task's bus channel so subscribers attached to other instances
// receive it too. A bus failure is logged, not propagated; local observers
// have already been served.
func (b *Broadcaster) Broadcast(ctx context.Context, taskID string, event domain.Event) {
	event.TaskID = taskID
	event.Origin = b.instance
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	telemetry.BroadcastEvents.WithLabelValues(string(event.Type)).Inc()

	b.deliver(taskID, event)

	if err := b.bus.Publish(ctx, redis.TaskChannel(taskID), event); err != nil {
		b.logger.Warn("bus publish failed",
			slog.String("task_id", taskID),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// StartListener subscribes to every task channel and routes incoming events
// to local subscribers. Safe to call more than once; only the first call
// starts the listener. The listener stops when ctx is cancelled.
func (b *Broadcaster) StartListener(ctx context.Context) error {
	var startErr error
	b.startOnce.Do(func() {
		sub, err := b.bus.PSubscribe(ctx, redis.TaskChannelPattern)
		if err != nil {
			startErr = err
			return
		}
		go func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.C():
					if !ok {
						b.logger.Warn("task event listener closed")
						return
					}
					// Locally originated events were delivered in Broadcast.
					if msg.Event.Origin == b.instance {
						continue
					}
					taskID := strings.TrimPrefix(msg.Channel, "task:")
					b.deliver(taskID, msg.Event)
				}
			}
		}()
		b.logger.Info("task event listener started")
	})
	return startErr
}

// deliver sends the event to each local subscriber of taskID. A failed send
// drops that subscriber; the rest are unaffected.
func (b *Broadcaster) deliver(taskID string, event domain.Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs[taskID]))
	for sub := range b.subs[taskID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(event); err != nil {
			telemetry.BroadcastDroppedSubscribers.Inc()
			b.logger.Debug("dropping subscriber",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
			b.Unsubscribe(taskID, sub)
		}
	}
}
