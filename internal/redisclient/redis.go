// Package redisclient wraps a go-redis client with the pub/sub and
// distributed-lock helpers the event bus and scheduler need, grounded on
// the teacher's pkg/redis/redis.go but trimmed to the operations this
// domain actually exercises (cache/rate-limit/token helpers dropped —
// nothing in SPEC_FULL.md calls them; see DESIGN.md).
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/loomwork/loom/internal/config"
)

type Client struct {
	*redis.Client
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr()).Msg("redis connected")
	return &Client{client}, nil
}

// AcquireLock is a SETNX-based mutual-exclusion lock, used to ensure only
// one worker process resumes the batch of interrupted runs on startup.
func (c *Client) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) ReleaseLock(ctx context.Context, key, value string) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	return script.Run(ctx, c.Client, []string{key}, value).Err()
}
