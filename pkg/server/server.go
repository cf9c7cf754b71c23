package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"robot-qlearning/internal/robot"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"
)

// Server hosts a robot behind the bridge protocol
type Server struct {
	config     config.BridgeServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer creates a bridge server for bot. obs may be nil
func NewServer(cfg config.BridgeServerConfig, bot robot.Robot, obs CallObserver) *Server {
	interceptors := []grpc.UnaryServerInterceptor{RecoveryInterceptor(obs), LoggingInterceptor}
	if obs != nil {
		interceptors = append(interceptors, MetricsInterceptor(obs))
	}
	interceptors = append(interceptors, TimeoutInterceptor(cfg.HandlerTimeout))

	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConcurrentStreams)))
	}
	if cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := robot.NewBridgeServer(bot).Register(grpcServer)

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		config:     cfg,
		grpcServer: grpcServer,
		health:     healthServer,
	}
}

// Listen binds addr without serving yet
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = lis
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks serving on lis, or on the listener bound by Listen when lis is nil
func (s *Server) Serve(lis net.Listener) error {
	if lis == nil {
		lis = s.listener
	}
	if lis == nil {
		return fmt.Errorf("bridge server has no listener")
	}

	logger.GetLogger().Infof("Serving robot bridge on %s", lis.Addr())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("bridge server failed: %w", err)
	}
	return nil
}

// Stop marks the bridge NOT_SERVING and drains in-flight calls until ctx ends
func (s *Server) Stop(ctx context.Context) error {
	logger.GetLogger().Info("Shutting down bridge server...")
	s.health.SetServingStatus(robot.BridgeServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.GetLogger().Info("Bridge server stopped gracefully")
	case <-ctx.Done():
		logger.GetLogger().Warn("Graceful shutdown timeout, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}
