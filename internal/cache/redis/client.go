package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/logger"
)

const cacheType = "snapshot"

// Client caches snapshots by id. Snapshots never change once written, so an
// entry only goes stale when its snapshot is deleted.
type Client struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return Wrap(client, ttl, "cot-reflect:"), nil
}

// Wrap builds a Client around an existing connection. Keys are namespaced
// under prefix.
func Wrap(client *redis.Client, ttl time.Duration, prefix string) *Client {
	return &Client{client: client, ttl: ttl, prefix: prefix}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) key(id int64) string {
	return fmt.Sprintf("%ssnapshot:%d", c.prefix, id)
}

func (c *Client) SetSnapshot(ctx context.Context, s *models.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, c.key(s.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	logger.Debug("Snapshot cached", logger.SnapshotID(s.ID), zap.Duration("ttl", c.ttl))
	return nil
}

// GetSnapshot reports a miss as (nil, false, nil).
func (c *Client) GetSnapshot(ctx context.Context, id int64) (*models.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot cache: %w", err)
	}

	var s models.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	logger.Debug("Snapshot cache hit", logger.SnapshotID(id))
	return &s, true, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot cache: %w", err)
	}
	return nil
}

// Flush drops every cached snapshot under this client's prefix.
func (c *Client) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"snapshot:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Snapshot cache flushed")
	return nil
}
