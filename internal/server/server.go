// Package server 组装监听器、会话循环和运维接口
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qiminjie89/chatsys/internal/cache"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/push"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/session"
	"github.com/qiminjie89/chatsys/pkg/auth"
	"github.com/qiminjie89/chatsys/pkg/config"
	"github.com/qiminjie89/chatsys/pkg/metrics"
	"github.com/qiminjie89/chatsys/pkg/transport"
)

// Pinger 可探活的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 服务依赖
type Deps struct {
	Routes   *router.Registry
	Presence *presence.Registry
	Pusher   *push.Pusher
	Database Pinger
	Cache    cache.Cache
	Bus      event.Bus
	// Admin 为空时不开放推送接口
	Admin  *auth.JWTValidator
	Logger *zap.Logger
}

// Server 聊天服务器
type Server struct {
	cfg  *config.Config
	deps Deps
	log  *zap.Logger

	sessionCfg session.Config

	listeners []transport.Listener
	admin     *adminServer
	grpc      *grpcServer

	sessions map[*session.Session]struct{}
	sessMu   sync.Mutex

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New 创建服务器，signer 用于帧签名校验
func New(cfg *config.Config, signer *protocol.Signer, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
		sessionCfg: session.Config{
			Framing:        cfg.Server.Framing,
			MaxFrameSize:   cfg.Server.MaxFrameSize,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			HandlerTimeout: cfg.Server.HandlerTimeout,
			Parse: protocol.ParseOptions{
				Signer:       signer,
				MaxClockSkew: cfg.Auth.MaxClockSkew,
			},
			RateLimit: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:     cfg.RateLimit.Burst,
		},
		sessions: make(map[*session.Session]struct{}),
	}
}

// Start 打开监听器并启动后台协程，任一监听失败时已打开的会被关闭
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	tcp, err := transport.ListenTCP(s.cfg.Server.Addr)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, tcp)

	if addr := s.cfg.Server.WebSocketAddr; addr != "" {
		ws, err := transport.ListenWebSocket(addr, transport.WebSocketConfig{HandshakeTimeout: 10 * time.Second})
		if err != nil {
			s.closeListeners()
			return err
		}
		s.listeners = append(s.listeners, ws)
	}

	if addr := s.cfg.Server.HealthAddr; addr != "" {
		s.admin, err = newAdminServer(s, addr)
		if err != nil {
			s.closeListeners()
			return err
		}
	}

	if addr := s.cfg.Server.GRPCAddr; addr != "" {
		s.grpc, err = newGRPCServer(s, addr)
		if err != nil {
			s.closeListeners()
			return err
		}
	}

	for _, l := range s.listeners {
		s.wg.Add(1)
		go func(l transport.Listener) {
			defer s.wg.Done()
			s.acceptLoop(l)
		}(l)
		s.log.Info("listening", zap.String("transport", l.Name()), zap.String("addr", l.Addr()))
	}

	if s.deps.Bus != nil && s.deps.Pusher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runEvents()
		}()
	}

	s.log.Info("chat server started", zap.String("id", s.cfg.Server.ID))
	return nil
}

// Addr TCP 监听地址
func (s *Server) Addr() string {
	if len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr()
}

// AdminAddr 运维 HTTP 监听地址，未开启时为空
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.addr
}

// GRPCAddr gRPC 监听地址，未开启时为空
func (s *Server) GRPCAddr() string {
	if s.grpc == nil {
		return ""
	}
	return s.grpc.addr
}

// Stop 关闭监听器与全部会话，等待后台协程退出
func (s *Server) Stop() {
	s.log.Info("stopping chat server")
	if s.cancel != nil {
		s.cancel()
	}
	s.closeListeners()

	s.sessMu.Lock()
	for sess := range s.sessions {
		sess.Close(session.ReasonShutdown)
	}
	s.sessMu.Unlock()

	s.wg.Wait()
	s.log.Info("chat server stopped")
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		l.Close()
	}
	if s.admin != nil {
		s.admin.close()
	}
	if s.grpc != nil {
		s.grpc.close()
	}
}

func (s *Server) acceptLoop(l transport.Listener) {
	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrListenerClosed) || s.ctx.Err() != nil {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			s.log.Warn("accept failed", zap.String("transport", l.Name()), zap.Error(err))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		metrics.ConnectionsAccepted.WithLabelValues(l.Name()).Inc()

		sess := session.New(conn, s.deps.Routes, s.sessionCfg, s.log)
		s.track(sess, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(sess, false)
			sess.Run(s.ctx)
			s.release(sess)
		}()
	}
}

func (s *Server) track(sess *session.Session, add bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if add {
		s.sessions[sess] = struct{}{}
	} else {
		delete(s.sessions, sess)
	}
}

// release 连接关闭后移除其在线记录
func (s *Server) release(sess *session.Session) {
	if s.deps.Presence == nil {
		return
	}
	if n := s.deps.Presence.Release(sess, sess.BoundUIDs()); n > 0 {
		metrics.OnlineUsers.Set(float64(s.deps.Presence.Count()))
	}
}

// SessionCount 当前连接数
func (s *Server) SessionCount() int {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return len(s.sessions)
}

// runEvents 消费事件总线并推送，总线异常退出时重试
func (s *Server) runEvents() {
	bus := s.deps.Bus
	for {
		err := bus.Run(s.ctx, s.deps.Pusher.HandleEvent)
		if s.ctx.Err() != nil || errors.Is(err, event.ErrClosed) {
			return
		}
		s.log.Warn("event bus stopped, restarting", zap.String("bus", bus.Name()), zap.Error(err))
		select {
		case <-time.After(time.Second):
		case <-s.ctx.Done():
			return
		}
	}
}
