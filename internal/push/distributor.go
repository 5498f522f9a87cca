package push

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// delivery 一次投递：同一份帧发给一批用户
type delivery struct {
	uids    []uint64
	payload []byte
}

// Distributor 分片推送器
//
// 用户按 uid 取模固定落在一个分片上，同一用户的推送保序。
// 入队不阻塞，分片队列满时丢弃并计数。
type Distributor struct {
	shards   []chan *delivery
	registry *presence.Registry
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewDistributor 创建分片推送器
func NewDistributor(registry *presence.Registry, shards, queueSize int, log *zap.Logger) *Distributor {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	d := &Distributor{
		shards:   make([]chan *delivery, shards),
		registry: registry,
		log:      log,
	}
	for i := range d.shards {
		d.shards[i] = make(chan *delivery, queueSize)
	}
	return d
}

// Start 启动各分片 worker，ctx 取消后排空剩余队列再退出
func (d *Distributor) Start(ctx context.Context) {
	for i, ch := range d.shards {
		d.wg.Add(1)
		go d.run(ctx, i, ch)
	}
}

// Wait 等待全部 worker 退出
func (d *Distributor) Wait() {
	d.wg.Wait()
}

func (d *Distributor) run(ctx context.Context, id int, ch chan *delivery) {
	defer d.wg.Done()
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case job := <-ch:
					d.deliver(job)
				default:
					return
				}
			}
		case job := <-ch:
			metrics.PushQueueSize.WithLabelValues(label).Set(float64(len(ch)))
			d.deliver(job)
		}
	}
}

// Enqueue 按分片拆分后入队，返回因队列满丢弃的用户数
func (d *Distributor) Enqueue(uids []uint64, payload []byte) int {
	if len(uids) == 0 {
		return 0
	}
	n := uint64(len(d.shards))
	buckets := make(map[uint64][]uint64)
	for _, uid := range uids {
		buckets[uid%n] = append(buckets[uid%n], uid)
	}

	dropped := 0
	for shard, batch := range buckets {
		select {
		case d.shards[shard] <- &delivery{uids: batch, payload: payload}:
		default:
			dropped += len(batch)
			metrics.PushDropped.WithLabelValues("queue_full").Add(float64(len(batch)))
		}
	}
	if dropped > 0 {
		d.log.Warn("push queue full", zap.Int("dropped", dropped))
	}
	return dropped
}

func (d *Distributor) deliver(job *delivery) {
	for _, uid := range job.uids {
		conn, ok := d.registry.Lookup(uid)
		if !ok {
			metrics.PushDropped.WithLabelValues("offline").Inc()
			continue
		}
		if err := conn.Send(job.payload); err != nil {
			// 句柄已失效：仅当仍指向该句柄时剔除
			if d.registry.Unregister(uid, conn) {
				metrics.OnlineUsers.Set(float64(d.registry.Count()))
			}
			metrics.PushDropped.WithLabelValues("write_failed").Inc()
			d.log.Debug("evict stale connection",
				zap.Uint64("uid", uid),
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
			continue
		}
		metrics.PushDelivered.Inc()
	}
}
