package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers keys for a TTL. Seen marks the key and reports whether it
// had been marked already; Forget drops it so a failed attempt can be retried.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

func WebhookKey(eventID string) string {
	return fmt.Sprintf("idem:webhook:%s", eventID)
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// MemoryStore is the single-process fallback used when no Redis is configured.
// Expired keys are pruned from Seen at most once per prune interval.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	keys      map[string]time.Time
	now       func() time.Time
	nextPrune time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, keys: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(s.nextPrune) {
		s.prune(now)
	}
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return true, nil
	}
	s.keys[key] = now.Add(s.ttl)
	return false, nil
}

func (s *MemoryStore) prune(now time.Time) {
	for k, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, k)
		}
	}
	s.nextPrune = now.Add(min(s.ttl, time.Minute))
}

// Len reports how many keys are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *MemoryStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
