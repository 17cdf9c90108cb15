// ABOUTME: Redis pub/sub statistics publisher
// ABOUTME: Publishes one JSON document per burst to a channel
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes bursts to a Redis channel
type RedisSink struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisSink connects to addr and checks the connection
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &RedisSink{rdb: rdb, channel: channel, timeout: 2 * time.Second}, nil
}

// Channel returns the channel bursts are published to
func (s *RedisSink) Channel() string {
	return s.channel
}

// Write publishes b as JSON
func (s *RedisSink) Write(b Burst) error {
	msg, err := json.Marshal(b)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.Publish(ctx, s.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish burst: %w", err)
	}
	return nil
}

// Close closes the connection
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
