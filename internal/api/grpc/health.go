// Package grpc provides the gRPC health endpoint of the forwarder.
package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the health service name reported for the forwarder.
const ServiceName = "athenasync.AlarmForwarder"

// HealthServer is a gRPC server that only serves grpc.health.v1.
type HealthServer struct {
	Server *grpc.Server
	health *health.Server
}

// NewHealthServer creates the server with the forwarder marked serving.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.UnaryInterceptor(requestIDInterceptor(logger)))
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &HealthServer{Server: srv, health: hs}
}

// SetServing flips the forwarder status, e.g. to NOT_SERVING during shutdown.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Close stops the server, draining in-flight calls.
func (h *HealthServer) Close() error {
	h.health.Shutdown()
	h.Server.GracefulStop()
	return nil
}

func requestIDInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("grpc call failed", "request_id", extractRequestID(ctx), "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
