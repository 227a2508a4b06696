package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AccessLogInterceptor returns a gRPC unary server interceptor that logs
// requests and their outcome.
//
// Expected failures, such as an unknown scope or an unreachable neighbour,
// are logged with the warning level.
func AccessLogInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		now := time.Now()

		if message, ok := req.(*structpb.Struct); ok && log.Level().Enabled(zap.DebugLevel) {
			log.Debugw("started gRPC execution",
				zap.String("method", info.FullMethod),
				zap.Any("request", message.AsMap()),
			)
		} else {
			log.Debugw("started gRPC execution",
				zap.String("method", info.FullMethod),
			)
		}

		resp, err := handler(ctx, req)
		duration := time.Since(now)
		status, _ := status.FromError(err)

		switch {
		case err == nil:
			log.Infow("completed gRPC execution",
				zap.String("method", info.FullMethod),
				zap.String("status", status.Code().String()),
				zap.Duration("duration", duration),
			)
		case status.Code() == codes.Internal || status.Code() == codes.Unknown:
			log.Errorw("failed to execute gRPC",
				zap.String("method", info.FullMethod),
				zap.String("status", status.Code().String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		default:
			log.Warnw("rejected gRPC execution",
				zap.String("method", info.FullMethod),
				zap.String("status", status.Code().String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}

		return resp, err
	}
}
