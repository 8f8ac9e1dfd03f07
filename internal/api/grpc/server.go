// Package grpcapi serves the worker's gRPC health endpoint.
package grpcapi

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-agent/internal/observability"

	"github.com/rs/zerolog"
)

// ServiceName is the health service name reported for the worker.
const ServiceName = "ai.voice.agent.Worker"

// Server is a gRPC server exposing grpc.health.v1.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "grpc_health").Logger()

	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(logger)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(logger)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, logger: logger}
	s.SetServing(false)
	return s
}

// SetServing reports the worker as SERVING or NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve serves on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
	return s.grpc.Serve(lis)
}

// Start listens on port and serves in a goroutine.
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", port, err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	return nil
}

// Stop marks the service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.logger.Info().Msg("Shutting down gRPC health server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
