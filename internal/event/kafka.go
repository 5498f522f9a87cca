package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/pkg/kafka"
	"github.com/qiminjie89/chatsys/pkg/logger"
	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// KafkaBus 基于 Kafka 的总线，多实例部署时每个实例都能收到全部事件
type KafkaBus struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	log      *zap.Logger
}

// KafkaConfig Kafka 总线配置
type KafkaConfig struct {
	Producer kafka.ProducerConfig
	Consumer kafka.ConsumerConfig
}

// NewKafkaBus 创建 Kafka 总线
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	producer, err := kafka.NewProducer(cfg.Producer)
	if err != nil {
		return nil, err
	}
	consumer, err := kafka.NewConsumer(cfg.Consumer)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		log:      logger.Named("event"),
	}, nil
}

// Publish 实现 Publisher
func (b *KafkaBus) Publish(ctx context.Context, e *ChatEvent) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := b.producer.Send(ctx, e.Key(), data); err != nil {
		metrics.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues("kafka", "ok").Inc()
	return nil
}

// Run 实现 Bus
func (b *KafkaBus) Run(ctx context.Context, h Handler) error {
	return b.consumer.Run(ctx, func(msg *kafka.Message) error {
		e, err := Decode(msg.Value)
		if err != nil {
			// 无法解码的消息直接丢弃，不重试
			b.log.Warn("drop undecodable event", zap.Error(err), zap.Int64("offset", msg.Offset))
			return nil
		}
		metrics.EventsConsumed.WithLabelValues("kafka").Inc()
		h(ctx, e)
		return nil
	})
}

// Name 实现 Bus
func (b *KafkaBus) Name() string { return "kafka" }

// Healthy 实现 Bus
func (b *KafkaBus) Healthy() bool {
	return b.producer.IsConnected()
}

// Close 实现 Bus
func (b *KafkaBus) Close() error {
	perr := b.producer.Close()
	if cerr := b.consumer.Close(); perr == nil {
		perr = cerr
	}
	return perr
}
