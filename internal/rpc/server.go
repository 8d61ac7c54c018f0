package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/echenim/Bedrock/tendermint/internal/config"
)

const stopGracePeriod = 2 * time.Second

// Server hosts the gRPC node service.
type Server struct {
	grpcServer  *grpc.Server
	nodeService *NodeServiceImpl
	cfg         config.RPCConfig
	logger      *zap.Logger

	grpcLis net.Listener
}

// NewServer creates a new RPC server.
func NewServer(cfg config.RPCConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rpc")

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			RecoveryStreamInterceptor(logger),
			LoggingStreamInterceptor(logger),
		),
	)

	// Enable gRPC server reflection for debugging with grpcurl.
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		cfg:        cfg,
		logger:     logger,
	}
}

// RegisterNodeService registers the node service implementation.
func (s *Server) RegisterNodeService(svc *NodeServiceImpl) {
	s.nodeService = svc
	RegisterNodeServiceServer(s.grpcServer, svc)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.cfg.GRPCAddr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves gRPC on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.grpcLis = lis
	s.logger.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
}

// Stop drains in-flight calls, then forcibly closes step streams that are
// still open after stopGracePeriod.
func (s *Server) Stop() error {
	s.logger.Info("gRPC server stopping")

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		s.logger.Warn("gRPC graceful stop timed out, closing open streams")
		s.grpcServer.Stop()
		<-done
	}
	return nil
}

// Name returns the service name.
func (s *Server) Name() string {
	return "rpc"
}

// GRPCAddr returns the actual address the gRPC server is listening on.
// Useful when configured with port 0 for tests.
func (s *Server) GRPCAddr() string {
	if s.grpcLis != nil {
		return s.grpcLis.Addr().String()
	}
	return s.cfg.GRPCAddr
}
