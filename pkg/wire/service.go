package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "trailwatch.v1.TelemetryService"

	// SendReadingMethod is the full method path of the SendReading RPC.
	SendReadingMethod = "/" + ServiceName + "/SendReading"
)

// ReadingRequest is one sensor sample. Moisture and Battery are decoded
// loosely so the server applies the same coercion rules as the HTTP path.
type ReadingRequest struct {
	TrailID  string `json:"trail_id"`
	Moisture any    `json:"moisture"`
	Battery  any    `json:"battery,omitempty"`
}

// ReadingResponse echoes the coerced values that were stored.
type ReadingResponse struct {
	Ok       bool     `json:"ok"`
	Moisture float64  `json:"moisture"`
	Battery  *float64 `json:"battery,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// TelemetryServiceServer is the server API for TelemetryService.
type TelemetryServiceServer interface {
	SendReading(context.Context, *ReadingRequest) (*ReadingResponse, error)
}

// UnimplementedTelemetryServiceServer can be embedded for forward compatibility.
type UnimplementedTelemetryServiceServer struct{}

func (UnimplementedTelemetryServiceServer) SendReading(context.Context, *ReadingRequest) (*ReadingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendReading not implemented")
}

// RegisterTelemetryServiceServer registers srv on s.
func RegisterTelemetryServiceServer(s grpc.ServiceRegistrar, srv TelemetryServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func sendReadingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServiceServer).SendReading(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SendReadingMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServiceServer).SendReading(ctx, req.(*ReadingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for TelemetryService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendReading",
			Handler:    sendReadingHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trailwatch/v1/telemetry.proto",
}

// Client calls TelemetryService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client bound to cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SendReading ships one sample to the server.
func (c *Client) SendReading(ctx context.Context, in *ReadingRequest, opts ...grpc.CallOption) (*ReadingResponse, error) {
	out := new(ReadingResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SendReadingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
