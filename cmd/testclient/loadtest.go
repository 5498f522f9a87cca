package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/qiminjie89/chatsys/internal/protocol"
)

// 负载测试参数
var (
	numClients  = flag.Int("clients", 100, "number of concurrent clients (load mode)")
	baseUID     = flag.Uint64("base-uid", 100000, "first uid used by load clients")
	rampUp      = flag.Duration("rampup", 10*time.Second, "ramp-up duration")
	duration    = flag.Duration("duration", 60*time.Second, "test duration after ramp-up")
	msgInterval = flag.Duration("msg-interval", 5*time.Second, "p2p message interval per client")
)

// Stats 统计
type Stats struct {
	connected    atomic.Int64
	disconnected atomic.Int64
	msgSent      atomic.Int64
	msgFailed    atomic.Int64
	pushRecv     atomic.Int64
	errors       atomic.Int64
	latencyNanos atomic.Int64
}

var stats Stats

// runLoadTest 逐步建立连接，每个客户端定期向随机对端发私聊
func runLoadTest(signer *protocol.Signer) {
	log.Infof("starting load test: server=%s clients=%d rampup=%s duration=%s",
		*serverAddr, *numClients, *rampUp, *duration)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go statsLoop(ctx)

	interval := *rampUp / time.Duration(max(*numClients, 1))
	var wg sync.WaitGroup

ramp:
	for i := 0; i < *numClients; i++ {
		select {
		case <-ctx.Done():
			break ramp
		default:
		}

		wg.Add(1)
		go func(uid uint64) {
			defer wg.Done()
			runClient(ctx, signer, uid)
		}(*baseUID + uint64(i))

		time.Sleep(interval)
	}

	log.Infof("all clients started, running for %s", *duration)

	select {
	case <-ctx.Done():
	case <-time.After(*duration):
		log.Infof("test duration completed")
		cancel()
	}

	wg.Wait()
	printFinalStats()
}

func runClient(ctx context.Context, signer *protocol.Signer, uid uint64) {
	client, err := Dial(*serverAddr, signer, *timeout)
	if err != nil {
		stats.errors.Add(1)
		return
	}
	defer client.Close()

	if err := client.Announce(uid, *timeout); err != nil {
		stats.errors.Add(1)
		return
	}

	stats.connected.Add(1)
	defer func() {
		stats.connected.Add(-1)
		stats.disconnected.Add(1)
	}()

	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	ticker := time.NewTicker(*msgInterval + jitter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done():
			stats.errors.Add(1)
			return

		case <-client.Pushes():
			stats.pushRecv.Add(1)

		case <-ticker.C:
			peer := *baseUID + uint64(rand.Intn(max(*numClients, 1)))
			if peer == uid {
				continue
			}
			start := time.Now()
			resp, err := client.SendMessage(uid, protocol.KindP2P, peer, 1,
				fmt.Sprintf("hello from %d at %d", uid, start.Unix()), *timeout)
			if err != nil {
				stats.errors.Add(1)
				return
			}
			stats.latencyNanos.Add(int64(time.Since(start)))
			if resp.State == protocol.StateOK {
				stats.msgSent.Add(1)
			} else {
				stats.msgFailed.Add(1)
			}
		}
	}
}

func statsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infof("stats: connected=%d sent=%d failed=%d push=%d errors=%d avg_latency=%s",
				stats.connected.Load(),
				stats.msgSent.Load(),
				stats.msgFailed.Load(),
				stats.pushRecv.Load(),
				stats.errors.Load(),
				avgLatency(),
			)
		}
	}
}

func avgLatency() time.Duration {
	n := stats.msgSent.Load() + stats.msgFailed.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(stats.latencyNanos.Load() / n)
}

func printFinalStats() {
	log.Infof("=== final stats ===")
	log.Infof("  disconnected: %d", stats.disconnected.Load())
	log.Infof("  messages sent: %d", stats.msgSent.Load())
	log.Infof("  messages failed: %d", stats.msgFailed.Load())
	log.Infof("  pushes received: %d", stats.pushRecv.Load())
	log.Infof("  errors: %d", stats.errors.Load())
	log.Infof("  avg latency: %s", avgLatency())
}
