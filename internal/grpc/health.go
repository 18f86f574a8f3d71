// Package grpc exposes the standard gRPC health service, reporting NOT_SERVING
// while the database is unreachable.
package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"campuscoin/internal/logger"
)

// ServiceName is the health service name clients may query besides "".
const ServiceName = "campuscoin.v1.CampusCoin"

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer builds a gRPC server with health and reflection registered.
// With a service token, everything but the health service requires it.
func NewServer(serviceToken string) (*grpc.Server, *health.Server, error) {
	unary := []grpc.UnaryServerInterceptor{loggingInterceptor}
	var stream []grpc.StreamServerInterceptor
	if serviceToken != "" {
		authUnary, err := NewServiceAuthUnaryInterceptor(serviceToken)
		if err != nil {
			return nil, nil, err
		}
		authStream, err := NewServiceAuthStreamInterceptor(serviceToken)
		if err != nil {
			return nil, nil, err
		}
		unary = append(unary, authUnary)
		stream = append(stream, authStream)
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(unary...), grpc.ChainStreamInterceptor(stream...))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	setStatus(hs, healthpb.HealthCheckResponse_NOT_SERVING)
	return server, hs, nil
}

func setStatus(hs *health.Server, st healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus("", st)
	hs.SetServingStatus(ServiceName, st)
}

// Check pings once and records the result.
func Check(ctx context.Context, hs *health.Server, pinger Pinger, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := pinger.Ping(pingCtx)
	if err != nil {
		setStatus(hs, healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	setStatus(hs, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch re-checks the database every interval until ctx is done, then marks
// the service as shutting down.
func Watch(ctx context.Context, hs *health.Server, pinger Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	log := logger.Default().WithField("component", "grpc_health")
	if err := Check(ctx, hs, pinger, interval); err != nil {
		log.WithError(err).Warn("database unreachable")
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
				if err := Check(ctx, hs, pinger, interval); err != nil {
					log.WithError(err).Warn("database unreachable")
				}
			}
		}
	}()
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := logger.Default().
		WithField("method", info.FullMethod).
		WithField("code", status.Code(err).String()).
		WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Warn("grpc request failed")
	} else {
		entry.Debug("grpc request")
	}
	return resp, err
}
