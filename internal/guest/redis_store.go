package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/redis"
)

type redisKV interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	GuestCartKey(deviceID, storageKey string) string
}

// RedisStore keeps guest state in Redis, namespaced per device so several
// kiosks can share one instance.
type RedisStore struct {
	client   redisKV
	deviceID string
	ttl      time.Duration
}

// NewRedisStore returns a RedisStore. A zero ttl keeps entries until purged.
func NewRedisStore(client redisKV, deviceID string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	return &RedisStore{client: client, deviceID: deviceID, ttl: ttl}, nil
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.client.GuestCartKey(r.deviceID, key))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.client.GuestCartKey(r.deviceID, key), string(value), r.ttl)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.client.GuestCartKey(r.deviceID, key))
}
