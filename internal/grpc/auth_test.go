package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestServiceAuthUnaryInterceptor(t *testing.T) {
	_, err := NewServiceAuthUnaryInterceptor("")
	require.Error(t, err)

	interceptor, err := NewServiceAuthUnaryInterceptor("s3cret")
	require.NoError(t, err)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/campuscoin.v1.Admin/Stats"}

	_, err = interceptor(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "wrong"))
	_, err = interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "s3cret"))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	resp, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestServiceAuthStreamInterceptor(t *testing.T) {
	interceptor, err := NewServiceAuthStreamInterceptor("s3cret")
	require.NoError(t, err)
	called := false
	handler := func(interface{}, grpc.ServerStream) error { called = true; return nil }
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"}

	err = interceptor(nil, fakeStream{ctx: context.Background()}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.False(t, called)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "s3cret"))
	require.NoError(t, interceptor(nil, fakeStream{ctx: ctx}, info, handler))
	assert.True(t, called)
}
