package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/pkg/auth"
	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
	Connections   int     `json:"connections"`
	OnlineUsers   int     `json:"online_users"`
	DatabaseOK    bool    `json:"database_ok"`
	CacheOK       bool    `json:"cache_ok"`
	EventBus      string  `json:"event_bus,omitempty"`
	EventBusOK    bool    `json:"event_bus_ok"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// UnicastRequest 单播请求
type UnicastRequest struct {
	UID     uint64 `json:"uid"`
	Content string `json:"content"`
}

// MulticastRequest 多播请求
type MulticastRequest struct {
	UIDs    []uint64 `json:"uids"`
	Content string   `json:"content"`
}

// BroadcastRequest 全服广播请求
type BroadcastRequest struct {
	Content string `json:"content"`
}

// PushResponse 推送结果
type PushResponse struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
}

type adminServer struct {
	http *http.Server
	addr string
}

func newAdminServer(s *Server, addr string) (*adminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: s.AdminHandler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server error", zap.Error(err))
		}
	}()
	s.log.Info("starting admin server", zap.String("addr", ln.Addr().String()))
	return &adminServer{http: srv, addr: ln.Addr().String()}, nil
}

func (a *adminServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.http.Shutdown(ctx)
}

// AdminHandler 运维接口：/health、/metrics 与 /api/v1/push/*
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	if s.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if s.deps.Admin != nil && s.deps.Pusher != nil {
		mux.HandleFunc("/api/v1/push/unicast", s.withAdmin("unicast", s.handleUnicast))
		mux.HandleFunc("/api/v1/push/multicast", s.withAdmin("multicast", s.handleMulticast))
		mux.HandleFunc("/api/v1/push/broadcast", s.withAdmin("broadcast", s.handleBroadcast))
	}
	return mux
}

// Health 汇总依赖状态
func (s *Server) Health(ctx context.Context) *HealthStatus {
	h := &HealthStatus{
		Connections:   s.SessionCount(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.deps.Presence != nil {
		h.OnlineUsers = s.deps.Presence.Count()
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h.DatabaseOK = s.deps.Database == nil || s.deps.Database.Ping(ctx) == nil
	h.CacheOK = s.deps.Cache == nil || s.deps.Cache.Ping(ctx) == nil
	h.EventBusOK = true
	if s.deps.Bus != nil {
		h.EventBus = s.deps.Bus.Name()
		h.EventBusOK = s.deps.Bus.Healthy()
	}

	switch {
	case !h.DatabaseOK:
		h.Status, h.Reason = "unhealthy", "database_unavailable"
	case !h.CacheOK:
		h.Status, h.Reason = "unhealthy", "cache_unavailable"
	case !h.EventBusOK:
		h.Status, h.Reason = "unhealthy", "event_bus_unavailable"
	default:
		h.Status = "healthy"
	}
	return h
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if health.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// withAdmin POST + JWT(push scope) 校验
func (s *Server) withAdmin(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		claims, err := s.deps.Admin.ValidateRequest(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrForbidden) {
				status = http.StatusForbidden
			}
			http.Error(w, err.Error(), status)
			return
		}
		metrics.AdminPushRequests.WithLabelValues(scope).Inc()
		s.log.Info("admin push", zap.String("scope", scope), zap.String("operator", claims.Operator))
		next(w, r)
	}
}

func (s *Server) handleUnicast(w http.ResponseWriter, r *http.Request) {
	var req UnicastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, ok := s.deps.Presence.Lookup(req.UID); !ok {
		http.Error(w, "user not online", http.StatusNotFound)
		return
	}
	n, err := s.deps.Pusher.Unicast(req.UID, req.Content)
	writePushResult(w, n, err)
}

func (s *Server) handleMulticast(w http.ResponseWriter, r *http.Request) {
	var req MulticastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UIDs) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := s.deps.Pusher.Multicast(req.UIDs, req.Content)
	writePushResult(w, n, err)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := s.deps.Pusher.Broadcast(req.Content)
	writePushResult(w, n, err)
}

func writePushResult(w http.ResponseWriter, delivered int, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(&PushResponse{Status: "ok", Delivered: delivered})
}
