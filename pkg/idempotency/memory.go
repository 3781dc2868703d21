package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/redis"
)

// MemoryStore is a process-local IdempotencyStore. Markers live as long as the
// process, or until their TTL elapses.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memoryItem
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.live(key)
	if !ok {
		return "", redis.Nil
	}
	return item.value, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	item := memoryItem{value: toString(value)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) IdempotencyKey(scope, id string) string {
	return strings.Join([]string{"mem", "idempotency", scope, id}, ":")
}

func (s *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "1"
}
