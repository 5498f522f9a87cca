package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService gRPC 健康检查的服务名
const HealthService = "chat.v1.Chat"

const healthRefreshInterval = 5 * time.Second

type grpcServer struct {
	srv    *grpc.Server
	health *health.Server
	addr   string
	stop   context.CancelFunc
}

// newGRPCServer 运行 gRPC 健康检查服务，状态随 Health() 周期刷新
func newGRPCServer(s *Server, addr string) (*grpcServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second, // ping 间隔
			Timeout: 3 * time.Second,  // ping 超时
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	ctx, cancel := context.WithCancel(s.ctx)
	g := &grpcServer{srv: srv, health: hs, addr: lis.Addr().String(), stop: cancel}
	g.refresh(ctx, s)

	go func() {
		if err := srv.Serve(lis); err != nil {
			s.log.Error("grpc server error", zap.Error(err))
		}
	}()
	go func() {
		ticker := time.NewTicker(healthRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.refresh(ctx, s)
			}
		}
	}()

	s.log.Info("starting grpc server", zap.String("addr", g.addr))
	return g, nil
}

func (g *grpcServer) refresh(ctx context.Context, s *Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.Health(ctx).Status != "healthy" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthService, status)
}

func (g *grpcServer) close() {
	g.stop()
	g.health.Shutdown()
	g.srv.GracefulStop()
}
