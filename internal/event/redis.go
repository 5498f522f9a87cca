package event

import (
	"context"
	"sync/atomic"

	"github.com/go-redis/redis"
	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/pkg/logger"
	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// PublishChannel redis 发布频道
const PublishChannel = "chat_publish_channel"

// RedisBus 基于 redis pub/sub 的总线，配置了 redis 但没有 Kafka 时使用
type RedisBus struct {
	client  *redis.Client
	channel string
	healthy atomic.Bool
	log     *zap.Logger
}

// NewRedisBus 复用缓存的 redis 客户端
func NewRedisBus(client *redis.Client) *RedisBus {
	b := &RedisBus{
		client:  client,
		channel: PublishChannel,
		log:     logger.Named("event"),
	}
	b.healthy.Store(true)
	return b
}

// Publish 实现 Publisher
func (b *RedisBus) Publish(ctx context.Context, e *ChatEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := b.client.WithContext(ctx).Publish(b.channel, data).Err(); err != nil {
		b.healthy.Store(false)
		metrics.EventsPublished.WithLabelValues("redis", "error").Inc()
		return err
	}
	b.healthy.Store(true)
	metrics.EventsPublished.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Run 实现 Bus
func (b *RedisBus) Run(ctx context.Context, h Handler) error {
	sub := b.client.Subscribe(b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("drop undecodable event", zap.Error(err))
				continue
			}
			metrics.EventsConsumed.WithLabelValues("redis").Inc()
			h(ctx, e)
		}
	}
}

// Name 实现 Bus
func (b *RedisBus) Name() string { return "redis" }

// Healthy 实现 Bus
func (b *RedisBus) Healthy() bool { return b.healthy.Load() }

// Close 客户端归缓存所有，这里不关闭
func (b *RedisBus) Close() error { return nil }
