package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
)

// CacheRepository wraps Redis for JSON snapshot caching and the audit outbox.
// A nil client turns every read into a miss and every write into a no-op.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (r *CacheRepository) Enabled() bool {
	return r != nil && r.client != nil
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if !r.Enabled() {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// setIfNewerScript writes ARGV[2] unless the cached JSON already carries a
// version at or above ARGV[1].
var setIfNewerScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
  local ok, decoded = pcall(cjson.decode, current)
  if ok and type(decoded) == "table" then
    local cached = tonumber(decoded["version"])
    if cached and cached >= tonumber(ARGV[1]) then
      return 0
    end
  end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// SetIfNewer stores value under key only when the cached entry is missing or
// older than version. value must marshal to a JSON object with a top-level
// "version" field. It reports whether the write happened.
func (r *CacheRepository) SetIfNewer(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) (bool, error) {
	if !r.Enabled() {
		return false, nil
	}
	if ttl <= 0 {
		return false, fmt.Errorf("redis set %s: ttl must be positive", key)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	written, err := setIfNewerScript.Run(ctx, r.client, []string{key}, version, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis set %s: %w", key, err)
	}
	return written == 1, nil
}

// Push appends a JSON encoded value to the tail of a list.
func (r *CacheRepository) Push(ctx context.Context, key string, value interface{}) error {
	if !r.Enabled() {
		return fmt.Errorf("redis push %s: cache disabled", key)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal list value for %s: %w", key, err)
	}
	if err := r.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", key, err)
	}
	return nil
}

// Peek decodes the head of a list without removing it. An empty list yields
// ErrCacheMiss.
func (r *CacheRepository) Peek(ctx context.Context, key string, dest interface{}) error {
	if !r.Enabled() {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.LIndex(ctx, key, 0).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis lindex %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal list head for %s: %w", key, err)
	}
	return nil
}

// Drop removes the head of a list.
func (r *CacheRepository) Drop(ctx context.Context, key string) error {
	if !r.Enabled() {
		return nil
	}
	if err := r.client.LPop(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis lpop %s: %w", key, err)
	}
	return nil
}

// Len returns the length of a list.
func (r *CacheRepository) Len(ctx context.Context, key string) (int64, error) {
	if !r.Enabled() {
		return 0, nil
	}
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", key, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
