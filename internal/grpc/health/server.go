package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"formaos-compliance/pkg/logger"
)

// NewGRPCServer creates a gRPC server with request logging
func NewGRPCServer(log *logger.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(unaryLogger(log.WithComponent("grpc"))))
	return grpc.NewServer(opts...)
}

func unaryLogger(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request completed")
		return resp, err
	}
}
