// Package rediscache provides a Redis-backed cache for the active task list.
// It is strictly best effort: every failure degrades to the database.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/earnloop/earnloop/internal/app/domain/task"
	"github.com/earnloop/earnloop/pkg/logger"
	"github.com/go-redis/redis/v8"
)

const (
	tasksKey   = "earnloop:tasks:active"
	defaultTTL = 5 * time.Minute
)

// TaskCache caches the active task list in Redis.
type TaskCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// New creates a TaskCache from a Redis URL (redis://host:port/db). It pings
// the server once so a misconfigured cache surfaces at startup.
func New(ctx context.Context, url string, log *logger.Logger) (*TaskCache, error) {
	if log == nil {
		log = logger.NewDefault("rediscache")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &TaskCache{client: client, ttl: defaultTTL, log: log}, nil
}

// GetTasks returns the cached active task list, if present.
func (c *TaskCache) GetTasks(ctx context.Context) ([]task.Task, bool) {
	raw, err := c.client.Get(ctx, tasksKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("task cache read failed")
		}
		return nil, false
	}

	var tasks []task.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		c.log.WithError(err).Warn("task cache payload corrupt")
		return nil, false
	}
	return tasks, true
}

// SetTasks stores the active task list.
func (c *TaskCache) SetTasks(ctx context.Context, tasks []task.Task) {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, tasksKey, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("task cache write failed")
	}
}

// Invalidate drops the cached task list.
func (c *TaskCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, tasksKey).Err(); err != nil {
		c.log.WithError(err).Warn("task cache invalidation failed")
	}
}

// Close releases the underlying connection pool.
func (c *TaskCache) Close() error {
	return c.client.Close()
}
