package ratelimit

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor limits gRPC calls with l. The client key comes from
// x-forwarded-for / x-real-ip metadata when a proxy sets them, otherwise from
// the peer's host address. Denied calls return codes.ResourceExhausted.
func UnaryInterceptor(l Limiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !l.Allow(grpcClientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}
		return handler(ctx, req)
	}
}

func grpcClientKey(ctx context.Context) string {
	var fwd, realIP string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-forwarded-for"); len(v) > 0 {
			fwd = v[0]
		}
		if v := md.Get("x-real-ip"); len(v) > 0 {
			realIP = v[0]
		}
	}
	if fwd == "" && realIP == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			return HostOnly(p.Addr.String())
		}
	}
	return KeyFrom(fwd, realIP)
}
