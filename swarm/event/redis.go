package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// RedisPublisher publishes events to a redis pub/sub channel for
// consumption by external transport processes. Delivery failures are
// logged and swallowed.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisPublisher creates a publisher for the given pub/sub channel.
func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "swarmflow:events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.With(zap.String("component", "redis_publisher")),
	}
}

// Publish serializes evt as JSON and publishes it. Never blocks the
// caller beyond marshalling: the redis round-trip happens in a goroutine.
func (p *RedisPublisher) Publish(evt types.Event) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.Warn("failed to publish event",
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
		}
	}()
}
