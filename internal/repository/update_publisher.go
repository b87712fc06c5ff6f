package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/domain/repository"
)

// RedisUpdatePublisher publishes composed updates on a pub/sub channel and
// keeps the latest update per instrument in a hash for late readers.
type RedisUpdatePublisher struct {
	client  *redis.Client
	channel string
	latest  string
	ttl     time.Duration
}

func NewRedisUpdatePublisher(client *redis.Client, channel string) repository.UpdatePublisher {
	return &RedisUpdatePublisher{
		client:  client,
		channel: channel,
		latest:  channel + ":latest",
		ttl:     24 * time.Hour,
	}
}

func (p *RedisUpdatePublisher) PublishUpdate(ctx context.Context, u *models.MarketUpdate) error {
	if u == nil {
		return nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, b)
	pipe.HSet(ctx, p.latest, u.InstrumentID, b)
	pipe.Expire(ctx, p.latest, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", u.InstrumentID, err)
	}
	return nil
}

// Close is a no-op; the client is shared with the cache.
func (p *RedisUpdatePublisher) Close() error { return nil }
