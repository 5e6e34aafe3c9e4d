package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces revocation keys in Redis.
const DefaultKeyPrefix = "sessionbridge:revoked:"

// RedisStore shares revocations between bridge instances. Entries expire
// through Redis TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStoreFromURL connects using a redis:// URL and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	store := NewRedisStore(redis.NewClient(opts), prefix)
	if err := store.client.Ping(ctx).Err(); err != nil {
		_ = store.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return store, nil
}

// Revoke stores the token fingerprint with a TTL ending at until.
func (r *RedisStore) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+fingerprint(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token fingerprint is present.
func (r *RedisStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+fingerprint(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity for health reporting.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
