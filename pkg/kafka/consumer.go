// Package kafka 提供 Kafka 客户端封装
package kafka

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/pkg/logger"
)

// ErrIncompleteConfig 缺少 broker/topic/group
var ErrIncompleteConfig = errors.New("kafka: incomplete config")

// ConsumerConfig Kafka 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string // 每个聊天实例独立消费组，保证各自收到全部事件
}

// Consumer Kafka 消费者
type Consumer struct {
	cfg       ConsumerConfig
	reader    *kafka.Reader
	connected atomic.Bool
	log       *zap.Logger
}

// MessageHandler 消息处理函数
type MessageHandler func(msg *Message) error

// Message Kafka 消息
type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.ConsumerGroup == "" {
		return nil, ErrIncompleteConfig
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		cfg:    cfg,
		reader: reader,
		log:    logger.Named("kafka").With(zap.String("topic", cfg.Topic), zap.String("group", cfg.ConsumerGroup)),
	}, nil
}

// Run 消费循环，ctx 取消后返回
//
// 处理函数返回错误只记录日志，offset 照常提交。
func (c *Consumer) Run(ctx context.Context, handler MessageHandler) error {
	c.log.Info("kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.connected.Store(false)
			c.log.Error("kafka fetch message failed", zap.Error(err))
			continue
		}
		c.connected.Store(true)

		if err := handler(&Message{
			Key:       msg.Key,
			Value:     msg.Value,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}); err != nil {
			c.log.Error("kafka message handler failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("kafka commit failed", zap.Error(err))
		}
	}
}

// IsConnected 最近一次拉取是否成功
func (c *Consumer) IsConnected() bool {
	return c.connected.Load()
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}
