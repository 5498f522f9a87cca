package event

import (
	"context"
	"sync"

	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// LocalBus 进程内总线，未配置 Kafka/Redis 时使用
type LocalBus struct {
	ch        chan *ChatEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalBus 创建进程内总线
func NewLocalBus(size int) *LocalBus {
	if size <= 0 {
		size = 1024
	}
	return &LocalBus{
		ch:   make(chan *ChatEvent, size),
		done: make(chan struct{}),
	}
}

// Publish 入队，队列满时阻塞直到 ctx 取消
func (b *LocalBus) Publish(ctx context.Context, e *ChatEvent) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.ch <- e:
		metrics.EventsPublished.WithLabelValues("local", "ok").Inc()
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		metrics.EventsPublished.WithLabelValues("local", "error").Inc()
		return ctx.Err()
	}
}

// Run 实现 Bus
func (b *LocalBus) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case e := <-b.ch:
			metrics.EventsConsumed.WithLabelValues("local").Inc()
			h(ctx, e)
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Name 实现 Bus
func (b *LocalBus) Name() string { return "local" }

// Healthy 实现 Bus
func (b *LocalBus) Healthy() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Close 实现 Bus
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
