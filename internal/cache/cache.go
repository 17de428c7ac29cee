// Package cache provides the redis-backed read-acceleration cache and the
// per-user invalidation tracker that keeps it consistent with committed
// mutations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultViewTTL        = 5 * time.Minute
	defaultTrackRetention = time.Hour
)

var errMissingClient = errors.New("cache: redis client is required")

// NewClient connects a redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return client, nil
}

// Config wires the cache.
type Config struct {
	Client *redis.Client
	Prefix string
	// ViewTTL bounds how long a cached read view lives without invalidation.
	ViewTTL time.Duration
	// TrackRetention bounds how long abandoned keys stay in a user's
	// tracking set before redis expires the set itself.
	TrackRetention time.Duration
	Logger         *zap.Logger
}

// Cache stores serialized read views keyed per user and tracks every key so
// a mutation can purge all views that might now be stale.
type Cache struct {
	client    *redis.Client
	prefix    string
	viewTTL   time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// New validates the configuration and constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "notesync:"
	}
	viewTTL := cfg.ViewTTL
	if viewTTL <= 0 {
		viewTTL = defaultViewTTL
	}
	retention := cfg.TrackRetention
	if retention <= 0 {
		retention = defaultTrackRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    cfg.Client,
		prefix:    prefix,
		viewTTL:   viewTTL,
		retention: retention,
		logger:    logger,
	}, nil
}

func (c *Cache) viewKey(key string) string {
	return c.prefix + "view:" + key
}

func (c *Cache) trackKey(userID string) string {
	return c.prefix + "tracked:" + userID
}

// SetView caches a serialized read view for a user and records the key as
// dependent on that user's visibility.
func (c *Cache) SetView(ctx context.Context, userID, key, value string) error {
	if err := c.client.Set(ctx, c.viewKey(key), value, c.viewTTL).Err(); err != nil {
		return fmt.Errorf("cache: set view: %w", err)
	}
	return c.Record(ctx, userID, key)
}

// GetView fetches a cached read view. The second return reports a hit.
func (c *Cache) GetView(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.viewKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get view: %w", err)
	}
	return value, true, nil
}

// Record registers a cache key in the user's tracking set. The set carries a
// retention TTL so keys from abandoned sessions cannot accumulate forever.
func (c *Cache) Record(ctx context.Context, userID, key string) error {
	trackKey := c.trackKey(userID)
	if err := c.client.SAdd(ctx, trackKey, key).Err(); err != nil {
		return fmt.Errorf("cache: track key: %w", err)
	}
	if err := c.client.Expire(ctx, trackKey, c.retention).Err(); err != nil {
		return fmt.Errorf("cache: set tracking retention: %w", err)
	}
	return nil
}

// Invalidate purges every tracked view for each user and clears their
// tracking sets. The sync engine awaits this before reporting any mutation
// ok, so no later read can serve pre-mutation data for an affected user.
func (c *Cache) Invalidate(ctx context.Context, userIDs []string) error {
	for _, userID := range userIDs {
		trackKey := c.trackKey(userID)
		keys, err := c.client.SMembers(ctx, trackKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("cache: list tracked keys: %w", err)
		}
		if len(keys) > 0 {
			viewKeys := make([]string, 0, len(keys))
			for _, key := range keys {
				viewKeys = append(viewKeys, c.viewKey(key))
			}
			if err := c.client.Del(ctx, viewKeys...).Err(); err != nil {
				return fmt.Errorf("cache: purge views: %w", err)
			}
		}
		if err := c.client.Del(ctx, trackKey).Err(); err != nil {
			return fmt.Errorf("cache: clear tracking set: %w", err)
		}
	}
	return nil
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
