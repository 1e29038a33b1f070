package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return NewFromClient(client, cfg.KeyPrefix, log), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    log,
	}
}

// Client returns the underlying Redis client
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a value in cache
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes keys from cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, prefixedKeys...).Err()
}

// Cache key constants
const (
	KeySnapshotPrefix  = "cache:snapshot:"
	KeyLockPrefix      = "lock:"
	KeyRateLimitPrefix = "rate_limit:"
	KeyHistoryPrefix   = "history:"
)

// releaseScript deletes the lock only while the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AcquireLock attempts to take a distributed lock. The returned token must be
// passed to ReleaseLock.
func (c *RedisCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.key(KeyLockPrefix+lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock held with token. Releasing an expired or
// foreign lock is a no-op.
func (c *RedisCache) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(KeyLockPrefix + lockKey)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lockKey, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot for an organization
func (c *RedisCache) GetSnapshot(ctx context.Context, orgID string) (*models.ComplianceSnapshot, bool, error) {
	var snap models.ComplianceSnapshot
	err := c.GetJSON(ctx, KeySnapshotPrefix+orgID, &snap)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached snapshot: %w", err)
	}
	return &snap, true, nil
}

// SetSnapshot caches a snapshot for ttl
func (c *RedisCache) SetSnapshot(ctx context.Context, orgID string, snapshot *models.ComplianceSnapshot, ttl time.Duration) error {
	return c.SetJSON(ctx, KeySnapshotPrefix+orgID, snapshot, ttl)
}

// InvalidateSnapshot drops the cached snapshot of an organization
func (c *RedisCache) InvalidateSnapshot(ctx context.Context, orgID string) error {
	return c.Delete(ctx, KeySnapshotPrefix+orgID)
}

// CheckRateLimit checks and increments the fixed-window counter for key.
// Returns (allowed, remaining, resetTime, error)
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	now := time.Now()
	bucket := now.Unix() / int64(window.Seconds())
	windowKey := c.key(fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, bucket))

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := max(limit-count, 0)
	resetTime := time.Unix((bucket+1)*int64(window.Seconds()), 0)

	return count <= limit, remaining, resetTime, nil
}

// PushHistory prepends value to the named history list and trims it to keep entries
func (c *RedisCache) PushHistory(ctx context.Context, name string, value any, keep int64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	key := c.key(KeyHistoryPrefix + name)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, keep-1)
	_, err = pipe.Exec(ctx)
	return err
}

// History returns up to limit raw history entries, newest first
func (c *RedisCache) History(ctx context.Context, name string, limit int64) ([]json.RawMessage, error) {
	values, err := c.client.LRange(ctx, c.key(KeyHistoryPrefix+name), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}
