package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"robot-qlearning/pkg/logger"

	"github.com/sirupsen/logrus"
)

// CallObserver receives the outcome of every served call
type CallObserver interface {
	ObserveCall(method string, d time.Duration, err error)
	ObservePanic(method string)
}

// LoggingInterceptor logs bridge calls. Successful calls go to debug since
// a training run issues several per step
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	entry := logger.GetLogger().WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Warn("Bridge call failed")
	} else {
		entry.Debug("Bridge call completed")
	}

	return resp, err
}

// MetricsInterceptor reports call outcomes to obs
func MetricsInterceptor(obs CallObserver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		obs.ObserveCall(info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// RecoveryInterceptor turns handler panics into Internal errors
func RecoveryInterceptor(obs CallObserver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.GetLogger().Errorf("Panic recovered in %s: %v", info.FullMethod, r)
				if obs != nil {
					obs.ObservePanic(info.FullMethod)
				}
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// TimeoutInterceptor bounds each handler. Zero disables it
func TimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if timeout <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}
