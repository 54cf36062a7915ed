// Package grpc provides the gRPC server for the engine.
// This is the primary IPC mechanism between the gateway and the engine.
package grpc

import (
	"fmt"
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Server owns the gRPC listener and the registered services.
// Thread-safe: Start/Stop may be called from different goroutines.
type Server struct {
	logger Logger

	mu       sync.Mutex
	grpcSrv  *grpc.Server
	listener net.Listener
}

// NewServer creates a server with the standard interceptor chain and OTel
// instrumentation, and registers the analysis service.
func NewServer(analysis *AnalysisServer, logger Logger) *Server {
	opts := ServerOptions(logger)
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))

	grpcSrv := grpc.NewServer(opts...)
	grpcSrv.RegisterService(&analysisServiceDesc, analysis)

	return &Server{
		logger:  logger,
		grpcSrv: grpcSrv,
	}
}

// Start listens on addr and serves until Stop. Blocks.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener. Blocks until Stop.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("grpc_server_started", "addr", listener.Addr().String())
	return s.grpcSrv.Serve(listener)
}

// Stop gracefully stops the server: in-flight RPCs finish, new ones are
// refused.
func (s *Server) Stop() {
	s.logger.Info("grpc_server_stopping")
	s.grpcSrv.GracefulStop()
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
