package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const serviceTokenHeader = "x-service-token"

// Health checks stay reachable for probes without a token.
func publicMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}

func checkServiceToken(ctx context.Context, expected string) error {
	token := serviceTokenFromMetadata(ctx)
	if token == "" {
		return status.Error(codes.Unauthenticated, "missing_service_token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return status.Error(codes.PermissionDenied, "invalid_service_token")
	}
	return nil
}

func NewServiceAuthUnaryInterceptor(expectedToken string) (grpc.UnaryServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("service auth token required")
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !publicMethod(info.FullMethod) {
			if err := checkServiceToken(ctx, expectedToken); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}, nil
}

func NewServiceAuthStreamInterceptor(expectedToken string) (grpc.StreamServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("service auth token required")
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !publicMethod(info.FullMethod) {
			if err := checkServiceToken(ss.Context(), expectedToken); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}, nil
}

func serviceTokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(serviceTokenHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
