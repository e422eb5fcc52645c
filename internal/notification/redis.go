package notification

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "sniperbot:events"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel, for
// dashboards and other local consumers.
type RedisPublisher struct {
	client  *goredis.Client
	channel string
}

// NewRedisPublisher connects to addr. An empty channel selects
// DefaultRedisChannel.
func NewRedisPublisher(addr, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		PoolSize: 4,
	})
	return &RedisPublisher{client: client, channel: channel}
}

func (r *RedisPublisher) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", r.channel, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
