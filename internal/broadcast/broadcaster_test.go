package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/redis"
)

// patternBus routes every published task event straight to pattern
// subscribers, standing in for Redis pub/sub.
type patternBus struct {
	mu      sync.Mutex
	psubs   []chan redis.Message
	failPub bool
}

func (b *patternBus) Publish(_ context.Context, channel string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub {
		return errors.New("bus unavailable")
	}
	for _, ch := range b.psubs {
		ch <- redis.Message{Channel: channel, Event: event}
	}
	return nil
}

func (b *patternBus) Subscribe(context.Context, ...string) (redis.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (b *patternBus) PSubscribe(context.Context, ...string) (redis.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan redis.Message, 64)
	b.psubs = append(b.psubs, ch)
	return &busSub{ch: ch}, nil
}

type busSub struct {
	ch   chan redis.Message
	once sync.Once
}

func (s *busSub) C() <-chan redis.Message { return s.ch }
func (s *busSub) Close() error            { s.once.Do(func() { close(s.ch) }); return nil }

// recorder collects delivered events; failAfter>0 makes Send fail from that
// call on.
type recorder struct {
	mu        sync.Mutex
	events    []domain.Event
	calls     int
	failAfter int
}

func (r *recorder) Send(event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAfter > 0 && r.calls > r.failAfter {
		return errors.New("connection gone")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) received() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBroadcastReachesOnlyMatchingSubscribers(t *testing.T) {
	bus := &patternBus{}
	bc := NewBroadcaster(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bc.StartListener(ctx))

	subA := &recorder{}
	subB := &recorder{}
	bc.Subscribe("task-a", subA)
	bc.Subscribe("task-b", subB)

	bc.Broadcast(ctx, "task-a", domain.Event{Type: domain.EventTaskProgress, Progress: 40})

	waitFor(t, func() bool { return len(subA.received()) == 2 })

	gotA := subA.received()
	assert.Equal(t, domain.EventSubscribed, gotA[0].Type)
	assert.Equal(t, domain.EventTaskProgress, gotA[1].Type)
	assert.Equal(t, "task-a", gotA[1].TaskID)
	assert.Equal(t, 40.0, gotA[1].Progress)
	assert.False(t, gotA[1].Timestamp.IsZero())

	// B only ever saw its subscription ack.
	gotB := subB.received()
	require.Len(t, gotB, 1)
	assert.Equal(t, domain.EventSubscribed, gotB[0].Type)
}

func TestFailedSubscriberIsDroppedOthersUnaffected(t *testing.T) {
	bus := &patternBus{}
	bc := NewBroadcaster(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bc.StartListener(ctx))

	healthy := &recorder{}
	flaky := &recorder{failAfter: 1} // ack succeeds, everything after fails
	bc.Subscribe("task-a", healthy)
	bc.Subscribe("task-a", flaky)

	bc.Broadcast(ctx, "task-a", domain.Event{Type: domain.EventTaskProgress, Progress: 10})
	waitFor(t, func() bool { return len(healthy.received()) == 2 })
	waitFor(t, func() bool { return bc.SubscriberCount("task-a") == 1 })

	bc.Broadcast(ctx, "task-a", domain.Event{Type: domain.EventTaskProgress, Progress: 20})
	waitFor(t, func() bool { return len(healthy.received()) == 3 })

	// The flaky subscriber saw only its ack.
	assert.Len(t, flaky.received(), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := &patternBus{}
	bc := NewBroadcaster(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bc.StartListener(ctx))

	sub := &recorder{}
	bc.Subscribe("task-a", sub)
	bc.Unsubscribe("task-a", sub)
	assert.Zero(t, bc.SubscriberCount("task-a"))

	bc.Broadcast(ctx, "task-a", domain.Event{Type: domain.EventTaskCompleted})
	time.Sleep(50 * time.Millisecond)

	require.Len(t, sub.received(), 1)
	assert.Equal(t, domain.EventSubscribed, sub.received()[0].Type)
}

func TestStartListenerIdempotent(t *testing.T) {
	bus := &patternBus{}
	bc := NewBroadcaster(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bc.StartListener(ctx))
	require.NoError(t, bc.StartListener(ctx))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Len(t, bus.psubs, 1)
}

func TestBroadcastDeliversLocallyWhenBusDown(t *testing.T) {
	bus := &patternBus{failPub: true}
	bc := NewBroadcaster(bus, nil)

	sub := &recorder{}
	bc.Subscribe("task-a", sub)

	bc.Broadcast(context.Background(), "task-a", domain.Event{Type: domain.EventTaskFailed, Error: "boom"})

	got := sub.received()
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventTaskFailed, got[1].Type)
	assert.Equal(t, "boom", got[1].Error)
}

// Two broadcasters sharing one bus stand in for a gateway and an
// orchestrator in separate processes: the subscriber attached to the other
// instance sees the event exactly once.
func TestBroadcastCrossesInstances(t *testing.T) {
	bus := &patternBus{}
	producer := NewBroadcaster(bus, nil)
	consumer := NewBroadcaster(bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, producer.StartListener(ctx))
	require.NoError(t, consumer.StartListener(ctx))

	remote := &recorder{}
	consumer.Subscribe("task-a", remote)

	producer.Broadcast(ctx, "task-a", domain.Event{Type: domain.EventTaskCompleted})
	waitFor(t, func() bool { return len(remote.received()) == 2 })

	time.Sleep(50 * time.Millisecond)
	got := remote.received()
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventTaskCompleted, got[1].Type)
}
