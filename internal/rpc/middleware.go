package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logCall records a finished call. Client errors stay at debug; internal
// failures are surfaced.
func logCall(ctx context.Context, logger *zap.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, zap.String("remote", p.Addr.String()))
	}

	switch code {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
	default:
		logger.Debug("grpc call", fields...)
	}
}

// LoggingUnaryInterceptor logs every unary call.
func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, logger, info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor logs the lifetime of every stream.
func LoggingStreamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("grpc stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		logCall(ss.Context(), logger, info.FullMethod, start, err)
		return err
	}
}

// recoverPanic converts a handler panic into codes.Internal.
func recoverPanic(logger *zap.Logger, method string, err *error) {
	if r := recover(); r != nil {
		logger.Error("grpc panic recovered",
			zap.String("method", method),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		*err = status.Error(codes.Internal, "internal error")
	}
}

// RecoveryUnaryInterceptor recovers panics in unary handlers.
func RecoveryUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverPanic(logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor recovers panics in stream handlers.
func RecoveryStreamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverPanic(logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}
