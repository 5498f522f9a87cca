// Package session 实现单连接的 读取 → 解析 → 分发 → 响应 循环
package session

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/pkg/metrics"
	"github.com/qiminjie89/chatsys/pkg/transport"
)

// ErrClosed 会话已关闭
var ErrClosed = errors.New("session closed")

// MsgTooManyRequests 限流时返回的消息，连接保持
const MsgTooManyRequests = "too many requests."

// 分帧模式
const (
	FramingReassemble = "reassemble"
	FramingSingleRead = "single_read"
)

// 关闭原因（指标标签）
const (
	ReasonEOF          = "eof"
	ReasonReadError    = "read_error"
	ReasonIdleTimeout  = "idle_timeout"
	ReasonFrameError   = "frame_error"
	ReasonHandlerError = "handler_error"
	ReasonWriteError   = "write_error"
	ReasonShutdown     = "shutdown"
)

// Config 会话参数
type Config struct {
	Framing string
	// MaxFrameSize 整帧（帧头 + body）上限，两种分帧模式共用
	MaxFrameSize int
	// ReadTimeout 两帧之间的最大空闲时间，0 表示不超时
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HandlerTimeout time.Duration
	Parse          protocol.ParseOptions
	// RateLimit 每秒帧数，0 表示不限流
	RateLimit rate.Limit
	Burst     int
}

// Session 单个客户端连接
//
// 帧严格按到达顺序逐个处理；Send 可被推送协程并发调用，写入经 writeMu 串行化。
type Session struct {
	id      string
	conn    transport.Conn
	cfg     Config
	routes  *router.Registry
	log     *zap.Logger
	limiter *rate.Limiter

	writeMu   sync.Mutex
	uidMu     sync.Mutex
	uids      []uint64
	closeOnce sync.Once
	closed    chan struct{}
	reason    string
	buf       []byte
}

// New 创建会话
func New(conn transport.Conn, routes *router.Registry, cfg Config, log *zap.Logger) *Session {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.MaxFrameSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New().String()
	s := &Session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		routes: routes,
		log:    log.With(zap.String("conn_id", id), zap.String("remote", conn.RemoteAddr())),
		closed: make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return s
}

// ID 连接 id
func (s *Session) ID() string { return s.id }

// RemoteAddr 远程地址
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Done 会话关闭时关闭
func (s *Session) Done() <-chan struct{} { return s.closed }

// Reason 关闭原因，未关闭时为空
func (s *Session) Reason() string {
	select {
	case <-s.closed:
		return s.reason
	default:
		return ""
	}
}

// Bind 记录本连接登记过的 uid，实现 presence.Binder
func (s *Session) Bind(uid uint64) {
	s.uidMu.Lock()
	defer s.uidMu.Unlock()
	for _, u := range s.uids {
		if u == uid {
			return
		}
	}
	s.uids = append(s.uids, uid)
}

// BoundUIDs 本连接登记过的 uid
func (s *Session) BoundUIDs() []uint64 {
	s.uidMu.Lock()
	defer s.uidMu.Unlock()
	return append([]uint64(nil), s.uids...)
}

// Send 写入一段已编码的帧（推送使用）
func (s *Session) Send(data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return s.write(data)
}

func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, err := s.conn.Write(data)
	if err != nil && transport.IsTimeout(err) {
		metrics.WriteTimeouts.Inc()
	}
	return err
}

// Close 关闭会话，只有第一次调用生效
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closed)
		s.conn.Close()

		metrics.ConnectionCloseReason.WithLabelValues(reason).Inc()
		metrics.Connections.Dec()
		s.log.Debug("connection closed", zap.String("reason", reason))
	})
}

// Run 处理帧直到连接关闭
//
// 成功的处理结果（包括参数校验失败的 GeneralError）后继续读取；
// 帧错误、分发错误、处理错误在回写一个 GeneralError 后关闭连接。
func (s *Session) Run(ctx context.Context) {
	metrics.Connections.Inc()
	s.log.Debug("connection opened")

	stop := context.AfterFunc(ctx, func() { s.Close(ReasonShutdown) })
	defer stop()

	for {
		data, err := s.readFrame()
		if err != nil {
			var fe *protocol.FrameError
			if errors.As(err, &fe) {
				s.failFrame(fe)
				return
			}
			s.Close(readCloseReason(err))
			return
		}

		req, err := protocol.ParseRequest(data, s.cfg.Parse)
		if err != nil {
			var fe *protocol.FrameError
			if !errors.As(err, &fe) {
				fe = &protocol.FrameError{Message: err.Error(), Err: protocol.ErrMalformedFrame}
			}
			s.failFrame(fe)
			return
		}

		if !s.handle(ctx, req) {
			return
		}
	}
}

// handle 处理一个请求帧，返回 false 表示连接已关闭
//
// 错误响应回显帧中的原始路由码。
func (s *Session) handle(ctx context.Context, req *protocol.Request) bool {
	code := s.routes.Resolve(req.Code)
	metrics.FramesReceived.WithLabelValues(code.String()).Inc()

	if s.limiter != nil && !s.limiter.Allow() {
		metrics.RateLimited.Inc()
		s.log.Warn("rate limited", zap.Uint16("code", req.Code))
		resp := &protocol.Response{Code: req.Code, SessionID: req.SessionID, State: protocol.StateGeneralError, Message: MsgTooManyRequests}
		if err := s.respond(resp); err != nil {
			s.Close(ReasonWriteError)
			return false
		}
		return true
	}

	resp, err := s.dispatch(ctx, code, req)
	if err != nil {
		s.log.Warn("handler failed", zap.Stringer("code", code), zap.Uint64("session_id", req.SessionID), zap.Error(err))
		s.respond(&protocol.Response{
			Code:      req.Code,
			SessionID: req.SessionID,
			State:     protocol.StateGeneralError,
			Message:   err.Error(),
		})
		s.Close(ReasonHandlerError)
		return false
	}

	if err := s.respond(resp); err != nil {
		s.log.Debug("write response failed", zap.Error(err))
		s.Close(ReasonWriteError)
		return false
	}
	return true
}

// dispatch 调用处理函数；处理函数不随连接关闭而取消，只受 HandlerTimeout 约束
func (s *Session) dispatch(ctx context.Context, code protocol.RouterCode, req *protocol.Request) (*protocol.Response, error) {
	hctx := context.WithoutCancel(ctx)
	if s.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, s.cfg.HandlerTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.routes.Call(hctx, code, &router.Context{Request: req, Code: code, Conn: s})
	metrics.HandlerDuration.WithLabelValues(code.String()).Observe(time.Since(start).Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		err = protocol.ErrTimeout
	}
	if err == nil && resp == nil {
		err = errors.New("empty response.")
	}
	return resp, err
}

func (s *Session) respond(resp *protocol.Response) error {
	data, err := resp.Encode()
	if err != nil {
		s.log.Error("encode response failed", zap.Error(err))
		return err
	}
	metrics.Responses.WithLabelValues(strconv.Itoa(int(resp.Code)), resp.State.String()).Inc()
	return s.write(data)
}

func (s *Session) failFrame(fe *protocol.FrameError) {
	metrics.FrameErrors.WithLabelValues(fe.Reason()).Inc()
	s.log.Warn("invalid frame", zap.Uint16("code", fe.Code), zap.String("message", fe.Message))
	s.respond(fe.Response())
	s.Close(ReasonFrameError)
}

// readFrame 按分帧模式读取一帧
func (s *Session) readFrame() ([]byte, error) {
	if s.cfg.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	if s.cfg.Framing == FramingSingleRead {
		if s.buf == nil {
			s.buf = make([]byte, s.cfg.MaxFrameSize)
		}
		n, err := s.conn.Read(s.buf)
		if n == 0 {
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		return s.buf[:n], nil
	}
	return protocol.ReadFrame(s.conn, s.cfg.MaxFrameSize)
}

func readCloseReason(err error) string {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonEOF
	case transport.IsTimeout(err):
		return ReasonIdleTimeout
	default:
		return ReasonReadError
	}
}
