package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCHealthServer exposes the readiness checks through the standard gRPC health protocol
// so container orchestrators can probe the gateway without HTTP.
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]HealthCheckFunc
	interval time.Duration
	logger   zerolog.Logger
}

// NewGRPCHealthServer creates a health server that re-evaluates checks every interval
func NewGRPCHealthServer(checks map[string]HealthCheckFunc, interval time.Duration) *GRPCHealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	server := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    10 * time.Second,
		Timeout: 3 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	// Not serving until the first evaluation says otherwise
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealthServer{
		server:   server,
		health:   hs,
		checks:   checks,
		interval: interval,
		logger:   ForComponent("grpc_health"),
	}
}

// Serve evaluates the checks on a ticker and serves health RPCs on lis until ctx is cancelled
func (s *GRPCHealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.evaluate(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evaluate(ctx)
			case <-ctx.Done():
				s.health.Shutdown()
				s.server.GracefulStop()
				return
			}
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the given TCP port and calls Serve
func (s *GRPCHealthServer) ListenAndServe(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	return s.Serve(ctx, lis)
}

func (s *GRPCHealthServer) evaluate(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dependencies, ok := CheckDependencies(checkCtx, s.checks)
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Debug().Interface("dependencies", dependencies).Msg("Gateway not ready")
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
