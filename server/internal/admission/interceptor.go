package admission

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor returns a gRPC UnaryServerInterceptor that treats every
// call as a write and checks the API key carried in the header metadata key.
//
// header should be lowercase (gRPC normalises metadata keys to lowercase).
// Rejections return codes.Unauthenticated; the handler is not invoked.
func (f *Filter) UnaryInterceptor(header string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var key string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(header); len(vals) > 0 {
				key = vals[0]
			}
		}

		res := f.Admit("", key, true)
		if !res.Allowed {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}
