package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// ResultStore keeps test results retrievable for a TTL after the probe.
type ResultStore interface {
	Put(ctx context.Context, result *models.TestResult) error
	Get(ctx context.Context, id uuid.UUID) (*models.TestResult, error)
}

const resultKeyPrefix = "pgai:test-result:"

// RedisResultStore stores results as JSON under a per-id key with TTL.
type RedisResultStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultStore creates the redis-backed store.
func NewRedisResultStore(client *redis.Client, ttl time.Duration) *RedisResultStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisResultStore{client: client, ttl: ttl}
}

func (s *RedisResultStore) Put(ctx context.Context, result *models.TestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal test result: %w", err)
	}
	return s.client.Set(ctx, resultKeyPrefix+result.ID.String(), data, s.ttl).Err()
}

func (s *RedisResultStore) Get(ctx context.Context, id uuid.UUID) (*models.TestResult, error) {
	data, err := s.client.Get(ctx, resultKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "test result not found or expired", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var result models.TestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal test result: %w", err)
	}
	return &result, nil
}

// MemoryResultStore is the in-process fallback when redis is not
// configured. Expiry is checked on read and by opportunistic sweeps.
type MemoryResultStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]memoryResult
}

type memoryResult struct {
	result  *models.TestResult
	expires time.Time
}

// NewMemoryResultStore creates the in-memory store.
func NewMemoryResultStore(ttl time.Duration) *MemoryResultStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryResultStore{ttl: ttl, entries: make(map[uuid.UUID]memoryResult)}
}

func (s *MemoryResultStore) Put(_ context.Context, result *models.TestResult) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.expires.Before(now) {
			delete(s.entries, id)
		}
	}
	clone := *result
	s.entries[result.ID] = memoryResult{result: &clone, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, id uuid.UUID) (*models.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || entry.expires.Before(time.Now()) {
		delete(s.entries, id)
		return nil, apperrors.Wrap(apperrors.KindNotFound, "test result not found or expired", apperrors.ErrNotFound)
	}
	clone := *entry.result
	return &clone, nil
}
