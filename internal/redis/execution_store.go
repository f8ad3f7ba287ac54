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
	executionTTL  = 24 * time.Hour
	activeSetKey  = "exec:active"
	updateStripes = 64
)

func executionKey(taskID string) string { return "exec:task:" + taskID }
func cancelKey(taskID string) string    { return "exec:cancel:" + taskID }

// ExecutionStore persists task execution records in Redis. Records expire a
// day after their last write.
type ExecutionStore interface {
	Put(ctx context.Context, exec *domain.TaskExecution) error
	Get(ctx context.Context, taskID string) (*domain.TaskExecution, error)
	// Update applies fn to the stored record and writes the result back.
	// Writers within one process are serialized per task, so concurrent
	// executor and step-report updates never lose fields.
	Update(ctx context.Context, taskID string, fn func(*domain.TaskExecution) error) (*domain.TaskExecution, error)
	ActiveIDs(ctx context.Context) ([]string, error)
	RequestCancel(ctx context.Context, taskID string) error
	CancelRequested(ctx context.Context, taskID string) (bool, error)
}

type executionStore struct {
	client *redis.Client
	locks  [updateStripes]sync.Mutex
}

// NewExecutionStore creates a Redis-backed ExecutionStore.
func NewExecutionStore(client *redis.Client) ExecutionStore {
	return &executionStore{client: client}
}

func (s *executionStore) lock(taskID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return &s.locks[h.Sum32()%updateStripes]
}

func (s *executionStore) Put(ctx context.Context, exec *domain.TaskExecution) error {
	exec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, executionKey(exec.TaskID), data, executionTTL)
	if exec.Status.IsTerminal() {
		pipe.SRem(ctx, activeSetKey, exec.TaskID)
	} else {
		pipe.SAdd(ctx, activeSetKey, exec.TaskID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put execution %s: %w", exec.TaskID, err)
	}
	return nil
}

func (s *executionStore) Get(ctx context.Context, taskID string) (*domain.TaskExecution, error) {
	data, err := s.client.Get(ctx, executionKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get execution %s: %w", taskID, err)
	}
	var exec domain.TaskExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", taskID, err)
	}
	return &exec, nil
}

func (s *executionStore) Update(ctx context.Context, taskID string, fn func(*domain.TaskExecution) error) (*domain.TaskExecution, error) {
	mu := s.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := fn(exec); err != nil {
		return nil, err
	}
	if err := s.Put(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *executionStore) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis active executions: %w", err)
	}
	return ids, nil
}

func (s *executionStore) RequestCancel(ctx context.Context, taskID string) error {
	if err := s.client.Set(ctx, cancelKey(taskID), "1", executionTTL).Err(); err != nil {
		return fmt.Errorf("redis request cancel %s: %w", taskID, err)
	}
	return nil
}

func (s *executionStore) CancelRequested(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis cancel check %s: %w", taskID, err)
	}
	return n > 0, nil
}
