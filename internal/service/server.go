package service

import (
	"context"
	"net"
	"path"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"hackohio/miniui/internal/metrics"
)

// Server is the gRPC server carrying the miniui service and the standard
// health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer registers c and reports it NOT_SERVING until SetServing.
func NewServer(c Caller, logger zerolog.Logger, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(UnaryInterceptor(logger))}, opts...)
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	Register(s.grpc, c)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing updates the health status of the miniui service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Serve accepts connections on l until Stop.
func (s *Server) Serve(l net.Listener) error {
	return s.grpc.Serve(l)
}

// Stop waits for in-flight calls and closes the listeners.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// UnaryInterceptor logs each call and records it in the rpc metrics.
func UnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)
		code := status.Code(err)
		method := path.Base(info.FullMethod)

		metrics.RecordRPC(method, code.String(), dur)

		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("rpc", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("rpc_call")
		return resp, err
	}
}
