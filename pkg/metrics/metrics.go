// Package metrics 提供 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 连接指标
var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Number of active client connections",
	})

	ConnectionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connections_accepted_total",
		Help: "Total accepted connections by transport",
	}, []string{"transport"})

	// 连接关闭原因
	ConnectionCloseReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connection_close_total",
		Help: "Connection close count by reason",
	}, []string{"reason"})

	// 写超时
	WriteTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_write_timeouts_total",
		Help: "Total write timeout count",
	})
)

// 帧与路由指标
var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frames_received_total",
		Help: "Total well-formed frames received by router code",
	}, []string{"code"})

	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frame_errors_total",
		Help: "Total rejected frames by reason",
	}, []string{"reason"})

	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_responses_total",
		Help: "Total responses written by router code and state",
	}, []string{"code", "state"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_handler_duration_seconds",
		Help:    "Handler latency by router code",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"code"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Total frames rejected by the per-connection rate limiter",
	})
)

// 业务指标
var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total persisted chat messages by channel kind",
	}, []string{"kind"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_cache_errors_total",
		Help: "Total failed cache operations by operation",
	}, []string{"op"})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_presence_online",
		Help: "Number of registered presence entries",
	})
)

// 推送与事件指标
var (
	PushDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_push_delivered_total",
		Help: "Total push frames written to connections",
	})

	PushDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_dropped_total",
		Help: "Total push frames dropped by reason",
	}, []string{"reason"})

	PushQueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_push_queue_size",
		Help: "Push distributor queue length per shard",
	}, []string{"shard"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Total chat events published by bus and result",
	}, []string{"bus", "result"})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_consumed_total",
		Help: "Total chat events consumed by bus",
	}, []string{"bus"})

	AdminPushRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_admin_push_requests_total",
		Help: "Total admin push API requests by scope",
	}, []string{"scope"})
)
