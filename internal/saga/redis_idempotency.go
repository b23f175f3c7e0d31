package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdemClient is the minimal client surface used by RedisIdempotencyStore.
// *redis.Client satisfies it.
type RedisIdemClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisIdemEntry struct {
	Status  string  `json:"status"`
	Outcome Outcome `json:"outcome,omitempty"`
}

// RedisIdempotencyStore records step outcomes in Redis. SetNX makes Begin
// atomic; the TTL is the retention window, after which keys expire instead of
// needing a cleanup job.
type RedisIdempotencyStore struct {
	client    RedisIdemClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisIdempotencyStore constructs a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client RedisIdemClient, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: "idem:",
		ttl:       ttl,
	}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (BeginResult, error) {
	payload, err := json.Marshal(redisIdemEntry{Status: idemInProgress})
	if err != nil {
		return BeginResult{}, err
	}

	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, payload, s.ttl).Result()
	if err != nil {
		return BeginResult{}, fmt.Errorf("idempotency setnx: %w", err)
	}
	if ok {
		return BeginResult{State: BeginAcquired}, nil
	}

	entry, err := s.load(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The record expired between SetNX and Get; ask the caller to retry.
			return BeginResult{State: BeginInProgress}, nil
		}
		return BeginResult{}, err
	}
	if entry.Status == idemCompleted {
		return BeginResult{State: BeginCompleted, Outcome: entry.Outcome}, nil
	}
	return BeginResult{State: BeginInProgress}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, outcome Outcome) error {
	entry, err := s.load(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: complete without begin for %q", ErrIdempotencyViolation, key)
		}
		return err
	}

	payload, err := json.Marshal(redisIdemEntry{Status: idemCompleted, Outcome: outcome})
	if err != nil {
		return err
	}

	if entry.Status == idemCompleted {
		existing, err := json.Marshal(redisIdemEntry{Status: idemCompleted, Outcome: entry.Outcome})
		if err != nil {
			return err
		}
		if string(existing) == string(payload) {
			return nil
		}
		return fmt.Errorf("%w: key %q", ErrIdempotencyViolation, key)
	}

	if err := s.client.Set(ctx, s.keyPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	entry, err := s.load(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if entry.Status != idemInProgress {
		return nil
	}
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency del: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) load(ctx context.Context, key string) (redisIdemEntry, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return redisIdemEntry{}, err
	}
	var entry redisIdemEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return redisIdemEntry{}, fmt.Errorf("decode idempotency entry %q: %w", key, err)
	}
	return entry, nil
}
