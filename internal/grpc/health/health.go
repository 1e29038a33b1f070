// Package health exposes dependency health over the standard gRPC health protocol.
package health

import (
	"context"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"formaos-compliance/pkg/logger"
)

// ServiceName is reported alongside the overall ("") status
const ServiceName = "formaos.compliance.v1.ComplianceService"

// Check probes one dependency
type Check func(ctx context.Context) error

// Server keeps the grpc health status in line with its dependency checks
type Server struct {
	health  *health.Server
	checks  map[string]Check
	timeout time.Duration
	logger  *logger.Logger
}

// NewServer creates a health server that starts out SERVING
func NewServer(checks map[string]Check, log *logger.Logger) *Server {
	s := &Server{
		health:  health.NewServer(),
		checks:  checks,
		timeout: 2 * time.Second,
		logger:  log.WithComponent("grpc-health"),
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// Register registers the health service with a gRPC server
func (s *Server) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, s.health)
}

// Probe runs every check once and updates the serving status. It returns the
// names of failing dependencies.
func (s *Server) Probe(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var failing []string
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	if len(failing) == 0 {
		s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return failing
}

// Run probes on every tick until ctx is done
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
