package grpcsvc

import (
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewServer собирает grpc.Server с BookingService, health и reflection.
// serverMetrics может быть nil.
func NewServer(svc BookingServer, serverMetrics *promgrpc.ServerMetrics, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if serverMetrics != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(serverMetrics.UnaryServerInterceptor()))
	}
	server := grpc.NewServer(opts...)

	RegisterBookingServer(server, svc)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	if serverMetrics != nil {
		serverMetrics.InitializeMetrics(server)
	}
	return server, healthServer
}
