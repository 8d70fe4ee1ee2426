package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fecsync/internal/finance/models"
	"fecsync/pkg/platform/sentinel"
)

// DefaultProgressTTL bounds how long finished runs stay visible.
const DefaultProgressTTL = 24 * time.Hour

// ProgressStore keeps run progress snapshots so any instance can report
// them.
type ProgressStore interface {
	Save(ctx context.Context, p *models.SyncProgress) error
	Get(ctx context.Context, runID string) (*models.SyncProgress, error)
}

type MemoryProgressStore struct {
	mu   sync.RWMutex
	runs map[string]*models.SyncProgress
}

func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{runs: make(map[string]*models.SyncProgress)}
}

func (s *MemoryProgressStore) Save(_ context.Context, p *models.SyncProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[p.RunID] = p.Clone()
	return nil
}

func (s *MemoryProgressStore) Get(_ context.Context, runID string) (*models.SyncProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

// RedisProgressStore keeps snapshots as JSON values that expire after ttl.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProgressStore(client *redis.Client, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisProgressStore{client: client, ttl: ttl}
}

func progressKey(runID string) string {
	return "fecsync:progress:" + runID
}

func (s *RedisProgressStore) Save(ctx context.Context, p *models.SyncProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(p.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *RedisProgressStore) Get(ctx context.Context, runID string) (*models.SyncProgress, error) {
	data, err := s.client.Get(ctx, progressKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("run %s: %w", runID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	var p models.SyncProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}
