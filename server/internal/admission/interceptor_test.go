package admission

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// passHandler is a grpc.UnaryHandler that returns ("ok", nil).
func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func callWithKey(t *testing.T, interceptor grpc.UnaryServerInterceptor, header, key string) (interface{}, error) {
	t.Helper()
	ctx := context.Background()
	if key != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(header, key))
	}
	return interceptor(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
}

func TestUnaryInterceptor_CorrectKey_Passes(t *testing.T) {
	i := New(permissive()).UnaryInterceptor("x-api-key")
	res, err := callWithKey(t, i, "x-api-key", "supersecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result: got %v, want ok", res)
	}
}

func TestUnaryInterceptor_WrongKey_Unauthenticated(t *testing.T) {
	i := New(permissive()).UnaryInterceptor("x-api-key")
	_, err := callWithKey(t, i, "x-api-key", "wrong")
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}

func TestUnaryInterceptor_NoMetadata_Unauthenticated(t *testing.T) {
	i := New(permissive()).UnaryInterceptor("x-api-key")
	_, err := i(context.Background(), nil, &grpc.UnaryServerInfo{}, passHandler)
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}

func TestUnaryInterceptor_CustomHeader(t *testing.T) {
	i := New(permissive()).UnaryInterceptor("x-trail-key")
	if _, err := callWithKey(t, i, "x-trail-key", "supersecret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The default header name is not consulted.
	if _, err := callWithKey(t, i, "x-api-key", "supersecret"); status.Code(err) != codes.Unauthenticated {
		t.Errorf("key under wrong header: got %v, want Unauthenticated", err)
	}
}

func TestUnaryInterceptor_WritesDisabled_Unauthenticated(t *testing.T) {
	p := permissive()
	p.APIKey = ""
	i := New(p).UnaryInterceptor("x-api-key")
	if _, err := callWithKey(t, i, "x-api-key", "anything"); status.Code(err) != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", err)
	}
}
