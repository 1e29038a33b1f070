package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"formaos-compliance/pkg/logger"
)

func dial(t *testing.T, s *Server) grpc_health_v1.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(logger.NewNop())
	s.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return grpc_health_v1.NewHealthClient(conn)
}

func TestHealthServer(t *testing.T) {
	var redisDown atomic.Bool
	checks := map[string]Check{
		"postgres": func(ctx context.Context) error { return nil },
		"redis": func(ctx context.Context) error {
			if redisDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}

	s := NewServer(checks, logger.NewNop())
	client := dial(t, s)
	ctx := context.Background()

	status := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	t.Run("serving when all checks pass", func(t *testing.T) {
		assert.Empty(t, s.Probe(ctx))
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(""))
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(ServiceName))
	})

	t.Run("not serving when a dependency fails", func(t *testing.T) {
		redisDown.Store(true)
		assert.Equal(t, []string{"redis"}, s.Probe(ctx))
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(ServiceName))
	})

	t.Run("recovers", func(t *testing.T) {
		redisDown.Store(false)
		assert.Empty(t, s.Probe(ctx))
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status(""))
	})

	t.Run("shutdown", func(t *testing.T) {
		s.Shutdown()
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status(""))
	})
}
