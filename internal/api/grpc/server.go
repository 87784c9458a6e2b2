// Package grpcapi exposes the classifier's health over gRPC.
package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"audio-authenticity-service/internal/observability"
	"audio-authenticity-service/internal/observability/metrics"
)

// ServiceName is the health-checked service name.
const ServiceName = "audio.authenticity.Classifier"

// Server wraps a grpc.Server carrying the standard health service.
type Server struct {
	*grpc.Server
	health *health.Server
}

// New creates a gRPC server with metrics interceptors, health and
// reflection registered. The classifier reports SERVING only when
// modelLoaded is true.
func New(m *metrics.Metrics, modelLoaded bool) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{Server: g, health: hs}
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.SetModelLoaded(modelLoaded)
	return s
}

// SetModelLoaded updates the classifier's serving status.
func (s *Server) SetModelLoaded(loaded bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if loaded {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.GracefulStop()
}
