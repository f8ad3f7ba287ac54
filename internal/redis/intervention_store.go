package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

const (
	// Records outlive their response deadline by a grace period so the
	// sweeper and late status queries can still observe the timeout.
	interventionGrace = 60 * time.Second

	pendingSetKey  = "interventions:pending"
	recentQueueKey = "interventions:recent"
	recentQueueCap = 100
)

func interventionKey(id string) string { return "intervention:req:" + id }

// InterventionStore persists intervention requests in Redis.
type InterventionStore interface {
	Put(ctx context.Context, req *domain.InterventionRequest) error
	Get(ctx context.Context, id string) (*domain.InterventionRequest, error)
	Update(ctx context.Context, id string, fn func(*domain.InterventionRequest) error) (*domain.InterventionRequest, error)
	// PendingIDs returns the ids of requests not yet resolved, oldest first
	// ordering is not guaranteed.
	PendingIDs(ctx context.Context) ([]string, error)
	// RecentIDs returns up to limit most recently created request ids.
	RecentIDs(ctx context.Context, limit int) ([]string, error)
}

type interventionStore struct {
	client *redis.Client
	locks  [updateStripes]sync.Mutex
}

// NewInterventionStore creates a Redis-backed InterventionStore.
func NewInterventionStore(client *redis.Client) InterventionStore {
	return &interventionStore{client: client}
}

func (s *interventionStore) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%updateStripes]
}

func (s *interventionStore) Put(ctx context.Context, req *domain.InterventionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal intervention: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, interventionKey(req.ID), data, req.Timeout+interventionGrace)
	if req.Status.IsTerminal() {
		pipe.SRem(ctx, pendingSetKey, req.ID)
	} else {
		pipe.SAdd(ctx, pendingSetKey, req.ID)
	}
	pipe.LPush(ctx, recentQueueKey, req.ID)
	pipe.LTrim(ctx, recentQueueKey, 0, recentQueueCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put intervention %s: %w", req.ID, err)
	}
	return nil
}

func (s *interventionStore) Get(ctx context.Context, id string) (*domain.InterventionRequest, error) {
	data, err := s.client.Get(ctx, interventionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.InterventionNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("redis get intervention %s: %w", id, err)
	}
	var req domain.InterventionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal intervention %s: %w", id, err)
	}
	return &req, nil
}

// Update serializes read-modify-write cycles per request id so a concurrent
// resolution cannot clobber a terminal status back to an earlier one.
func (s *interventionStore) Update(ctx context.Context, id string, fn func(*domain.InterventionRequest) error) (*domain.InterventionRequest, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(req); err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal intervention: %w", err)
	}

	// Preserve the record's remaining TTL instead of restarting it.
	ttl, err := s.client.TTL(ctx, interventionKey(id)).Result()
	if err != nil || ttl <= 0 {
		ttl = interventionGrace
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, interventionKey(id), data, ttl)
	if req.Status.IsTerminal() {
		pipe.SRem(ctx, pendingSetKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis update intervention %s: %w", id, err)
	}
	return req, nil
}

func (s *interventionStore) PendingIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis pending interventions: %w", err)
	}
	return ids, nil
}

func (s *interventionStore) RecentIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > recentQueueCap {
		limit = recentQueueCap
	}
	ids, err := s.client.LRange(ctx, recentQueueKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent interventions: %w", err)
	}
	return ids, nil
}
