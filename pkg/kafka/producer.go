package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/pkg/logger"
)

// ProducerConfig Kafka 生产者配置
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// Producer Kafka 生产者
type Producer struct {
	cfg       ProducerConfig
	writer    *kafka.Writer
	connected atomic.Bool
	log       *zap.Logger
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, ErrIncompleteConfig
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 按 key 哈希分区，同一频道保序
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	p := &Producer{
		cfg:    cfg,
		writer: writer,
		log:    logger.Named("kafka").With(zap.String("topic", cfg.Topic)),
	}
	p.connected.Store(true)
	return p, nil
}

// Send 发送消息
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
	p.connected.Store(err == nil)
	if err != nil {
		p.log.Warn("kafka send failed", zap.Error(err))
	}
	return err
}

// IsConnected 最近一次发送是否成功
func (p *Producer) IsConnected() bool {
	return p.connected.Load()
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
