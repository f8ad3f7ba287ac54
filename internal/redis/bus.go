package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// TaskChannel is the pub/sub channel carrying events for one task.
func TaskChannel(taskID string) string { return "task:" + taskID }

// InterventionChannel carries the resolution of one intervention.
func InterventionChannel(id string) string { return "intervention:" + id }

// TaskChannelPattern matches every task channel.
const TaskChannelPattern = "task:*"

// Message is one decoded bus delivery.
type Message struct {
	Channel string
	Event   domain.Event
}

// Subscription is a live feed of bus messages. Close releases the underlying
// connection; the channel returned by C is closed afterwards.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Bus publishes and subscribes to task event channels. Publishing is
// fire-and-forget with respect to receivers: zero subscribers is not an
// error.
type Bus interface {
	Publish(ctx context.Context, channel string, event domain.Event) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

type bus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBus creates a Redis pub/sub backed Bus.
func NewBus(client *redis.Client, logger *slog.Logger) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &bus{client: client, logger: logger}
}

func (b *bus) Publish(ctx context.Context, channel string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	// Wait for the subscription to be confirmed so callers never miss
	// messages published right after Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %v: %w", channels, err)
	}
	return b.wrap(ps), nil
}

func (b *bus) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe %v: %w", patterns, err)
	}
	return b.wrap(ps), nil
}

func (b *bus) wrap(ps *redis.PubSub) Subscription {
	sub := &subscription{ps: ps, out: make(chan Message, 64)}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping undecodable bus message",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			sub.out <- Message{Channel: msg.Channel, Event: event}
		}
	}()
	return sub
}

type subscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *subscription) C() <-chan Message { return s.out }
func (s *subscription) Close() error      { return s.ps.Close() }
