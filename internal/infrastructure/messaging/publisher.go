// Package messaging publishes EntitlementChanged messages to the change feed.
// Delivery is at-most-once: a failed publish is logged and counted but never
// rolls back the committed transition.
package messaging

import (
	"context"
	"fmt"

	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/pkg/messaging"
	"go.uber.org/zap"
)

// Publisher emits committed entitlement changes.
type Publisher interface {
	Publish(ctx context.Context, msg entity.EntitlementChanged) error
	Close() error
}

// NewPublisher builds the publisher selected by events.driver. redisClient may
// be nil unless the driver is redis.
func NewPublisher(cfg config.Config, redisClient messaging.RedisClient, logger *zap.Logger) (Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("events.driver redis requires a redis connection")
		}
		return NewRedisPublisher(redisClient, cfg.Events.Channel), nil
	case config.EventsAMQP:
		return NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, logger)
	case config.EventsNone, "":
		return NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unsupported events driver: %s", cfg.Events.Driver)
	}
}

// NoopPublisher drops every message.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, entity.EntitlementChanged) error { return nil }

func (NoopPublisher) Close() error { return nil }

type redisPublisher struct {
	client  messaging.RedisClient
	channel string
}

// NewRedisPublisher publishes JSON messages on a Redis pub/sub channel
func NewRedisPublisher(client messaging.RedisClient, channel string) Publisher {
	return &redisPublisher{client: client, channel: channel}
}

func (p *redisPublisher) Publish(ctx context.Context, msg entity.EntitlementChanged) error {
	if err := p.client.Publish(ctx, p.channel, msg); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", p.channel, err)
	}
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
