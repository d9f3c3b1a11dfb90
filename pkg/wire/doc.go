// Package wire defines the gRPC contract between trailwatch-agent and
// trailwatch-server.
//
// The service is declared by hand rather than generated: messages are plain
// Go structs carried by a JSON codec registered under the "json" content
// subtype, and ServiceDesc mirrors what protoc-gen-go-grpc would emit for
//
//	service TelemetryService {
//	  rpc SendReading(ReadingRequest) returns (ReadingResponse);
//	}
//
// Servers call RegisterTelemetryServiceServer; clients use NewClient, which
// forces the JSON codec on every call. Readings never carry a timestamp: the
// server assigns it on append.
package wire
