package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowgraph/graphengine/internal/infrastructure/cache"
)

// taskTTL bounds how long a completed task's status and result stay
// fetchable after the run finishes, so a worker's Redis keyspace doesn't
// grow unbounded across restarts.
const taskTTL = 15 * time.Minute

// redisStore is the production Store backing, letting multiple worker
// replicas behind a load balancer share task state (§2's domain stack
// wires redis/go-redis for exactly this).
type redisStore struct {
	rc *cache.RedisCache
}

// NewRedisStore builds a Store backed by an existing Redis connection.
func NewRedisStore(rc *cache.RedisCache) Store {
	return &redisStore{rc: rc}
}

func taskKey(taskID string) string   { return "graphengine:worker:task:" + taskID }
func resultKey(cacheKey string) string { return "graphengine:worker:result:" + cacheKey }
func cancelKey(taskID string) string { return "graphengine:worker:canceled:" + taskID }

func (s *redisStore) Put(ctx context.Context, taskID string, t StatusResponse) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("worker: marshal task status: %w", err)
	}
	return s.rc.Set(ctx, taskKey(taskID), b, taskTTL)
}

func (s *redisStore) Get(ctx context.Context, taskID string) (StatusResponse, bool, error) {
	raw, err := s.rc.Get(ctx, taskKey(taskID))
	if errors.Is(err, redis.Nil) {
		return StatusResponse{}, false, nil
	}
	if err != nil {
		return StatusResponse{}, false, fmt.Errorf("worker: get task status: %w", err)
	}
	var t StatusResponse
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return StatusResponse{}, false, fmt.Errorf("worker: unmarshal task status: %w", err)
	}
	return t, true, nil
}

func (s *redisStore) PutResult(ctx context.Context, cacheKey string, frame WireFrame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("worker: marshal result frame: %w", err)
	}
	return s.rc.Set(ctx, resultKey(cacheKey), b, taskTTL)
}

func (s *redisStore) GetResult(ctx context.Context, cacheKey string) (WireFrame, bool, error) {
	raw, err := s.rc.Get(ctx, resultKey(cacheKey))
	if errors.Is(err, redis.Nil) {
		return WireFrame{}, false, nil
	}
	if err != nil {
		return WireFrame{}, false, fmt.Errorf("worker: get result frame: %w", err)
	}
	var f WireFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return WireFrame{}, false, fmt.Errorf("worker: unmarshal result frame: %w", err)
	}
	return f, true, nil
}

func (s *redisStore) MarkCanceled(ctx context.Context, taskID string) error {
	return s.rc.Set(ctx, cancelKey(taskID), "1", taskTTL)
}

func (s *redisStore) IsCanceled(ctx context.Context, taskID string) (bool, error) {
	n, err := s.rc.Exists(ctx, cancelKey(taskID))
	if err != nil {
		return false, fmt.Errorf("worker: check cancellation: %w", err)
	}
	return n > 0, nil
}
