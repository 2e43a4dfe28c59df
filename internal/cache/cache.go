// Package cache provides the redis-backed job status/result cache the
// dashboard polls, so status reads never touch the dispatcher.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// Job lifecycle states published to the cache.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Cache is the caching interface. Implementations must be safe for
// concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, jobID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID string) (string, bool, error)
	SetResult(ctx context.Context, result *models.AnalysisResult, ttl time.Duration) error
	GetResult(ctx context.Context, jobID string) (*models.AnalysisResult, bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache from a redis:// URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID string) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetResult(ctx context.Context, result *models.AnalysisResult, ttl time.Duration) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ResultKey(result.JobID), body, ttl).Err()
}

func (c *RedisCache) GetResult(ctx context.Context, jobID string) (*models.AnalysisResult, bool, error) {
	body, err := c.client.Get(ctx, ResultKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var _ Cache = (*RedisCache)(nil)

// Noop is used when no redis URL is configured; the engine runs
// without a status cache.
type Noop struct{}

func (Noop) Ping(context.Context) error { return nil }
func (Noop) SetJobStatus(context.Context, string, string, time.Duration) error {
	return nil
}
func (Noop) GetJobStatus(context.Context, string) (string, bool, error) { return "", false, nil }
func (Noop) SetResult(context.Context, *models.AnalysisResult, time.Duration) error {
	return nil
}
func (Noop) GetResult(context.Context, string) (*models.AnalysisResult, bool, error) {
	return nil, false, nil
}
func (Noop) Delete(context.Context, string) error { return nil }

var _ Cache = Noop{}
