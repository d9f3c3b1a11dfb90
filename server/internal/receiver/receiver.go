package receiver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trailwatch/trailwatch/pkg/wire"
	"github.com/trailwatch/trailwatch/server/internal/ingest"
	"github.com/trailwatch/trailwatch/server/internal/store"
)

// Receiver implements wire.TelemetryServiceServer.
// It hands each incoming reading to the ingest service.
type Receiver struct {
	wire.UnimplementedTelemetryServiceServer
	ingest *ingest.Service
}

// New creates a Receiver that writes accepted readings through svc.
func New(svc *ingest.Service) *Receiver {
	return &Receiver{ingest: svc}
}

// SendReading is the unary RPC handler called by trailwatch-agent instances
// and gateways. Admission and rate limiting run as server interceptors before
// this is called.
func (r *Receiver) SendReading(ctx context.Context, req *wire.ReadingRequest) (*wire.ReadingResponse, error) {
	res, err := r.ingest.Ingest(ctx, ingest.Request{
		TrailID:  req.TrailID,
		Moisture: req.Moisture,
		Battery:  req.Battery,
		Source:   "grpc",
	})
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return nil, status.Error(codes.Unavailable, "store unavailable")
	case err != nil:
		return nil, status.Error(codes.Internal, "internal error")
	}

	slog.Debug("receiver: reading stored", "trail_id", req.TrailID, "key", res.Key)

	return &wire.ReadingResponse{
		Ok:       true,
		Moisture: res.Moisture,
		Battery:  res.Battery,
		Message:  "Data saved",
	}, nil
}
