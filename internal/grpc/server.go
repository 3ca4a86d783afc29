package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewServer builds the gRPC server with tracing, health and reflection.
// The returned health server lets the caller flip to NOT_SERVING on
// shutdown.
func NewServer(h SettlementServer) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterSettlementServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}
