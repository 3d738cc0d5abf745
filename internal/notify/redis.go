package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the default pub/sub channel name.
const DefaultRedisChannel = "glc:upload_completed"

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// URL format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	// History keeps the last N events in the list <Channel>:recent so a
	// consumer that was not subscribed can catch up. Zero disables it.
	History int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	Retries int
}

// Redis publishes each event twice: on the configured channel and on an
// outcome channel, <Channel>:ok or <Channel>:<error kind>, so a consumer
// can subscribe to failures alone.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis parses cfg.URL and creates the publisher. No connection is made
// until the first publish.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.History < 0 {
		return nil, fmt.Errorf("history must be >= 0, got %d", cfg.History)
	}
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

// OutcomeChannel is the channel an event is published on besides the
// configured one.
func (r *Redis) OutcomeChannel(event *Event) string {
	switch {
	case event.Success:
		return r.config.Channel + ":ok"
	case event.ErrorKind != "":
		return r.config.Channel + ":" + event.ErrorKind
	default:
		return r.config.Channel + ":failed"
	}
}

// RecentKey is the list holding the last History events, newest first.
func (r *Redis) RecentKey() string {
	return r.config.Channel + ":recent"
}

// Publish sends the event as JSON in one pipeline: both channels, then the
// recent-events list when History is set.
func (r *Redis) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + r.config.Retries
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if i > 0 {
			if err := sleep(ctx, backoff(i)); err != nil {
				return fmt.Errorf("redis: context canceled during backoff: %w", err)
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		_, lastErr = r.client.Pipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.Publish(publishCtx, r.config.Channel, body)
			p.Publish(publishCtx, r.OutcomeChannel(event), body)
			if r.config.History > 0 {
				p.LPush(publishCtx, r.RecentKey(), body)
				p.LTrim(publishCtx, r.RecentKey(), 0, r.config.History-1)
			}
			return nil
		})
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
