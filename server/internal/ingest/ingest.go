// Package ingest validates and appends new readings. It is shared by the
// HTTP write endpoint, the gRPC receiver and the MQTT bridge.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/store"
)

// ErrInvalidInput is returned, wrapped with the offending field, for a
// malformed payload.
var ErrInvalidInput = errors.New("invalid input")

// Request is an unvalidated reading as decoded from a transport. Moisture
// and Battery hold whatever the client sent; a nil Battery means absent.
type Request struct {
	TrailID  string
	Moisture any
	Battery  any
	// Source names the transport (http, grpc, mqtt) for metrics and logs.
	Source string
}

// Result echoes the coerced values that were stored.
type Result struct {
	Key      string
	Moisture float64
	Battery  *float64
}

// Notifier is told about every successful append.
type Notifier interface {
	Notify(trailID string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(trailID string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(trailID string) { f(trailID) }

// Counter is incremented once per ingest outcome.
type Counter interface {
	IncIngest(source, outcome string)
}

// Service is the ingestion handler.
type Service struct {
	store     store.Store
	notifiers []Notifier
	counter   Counter
	now       func() time.Time // injectable for deterministic tests
}

// New creates a Service appending to st and notifying ns after each append.
func New(st store.Store, ns ...Notifier) *Service {
	return &Service{store: st, notifiers: ns, now: time.Now}
}

// WithCounter sets the outcome counter and returns s.
func (s *Service) WithCounter(c Counter) *Service {
	s.counter = c
	return s
}

// Ingest validates req and appends it with a server-assigned timestamp.
// Failed validation performs no write. Store failures are returned as-is and
// never retried.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	source := req.Source
	r, err := validate(req)
	if err != nil {
		s.count(source, "invalid")
		return Result{}, err
	}

	r.Timestamp = telemetry.Millis(s.now())
	key, err := s.store.Append(ctx, req.TrailID, r)
	if err != nil {
		s.count(source, "error")
		slog.Error("ingest: append failed", "trail_id", req.TrailID, "source", source, "err", err)
		return Result{}, err
	}
	s.count(source, "ok")
	slog.Debug("ingest: reading stored", "trail_id", req.TrailID, "source", source, "key", key)

	for _, n := range s.notifiers {
		n.Notify(req.TrailID)
	}
	return Result{Key: key, Moisture: r.Moisture, Battery: r.Battery}, nil
}

func validate(req Request) (telemetry.Reading, error) {
	if req.TrailID == "" {
		return telemetry.Reading{}, fmt.Errorf("%w: trailId is required", ErrInvalidInput)
	}
	if !telemetry.ValidTrailID(req.TrailID) {
		return telemetry.Reading{}, fmt.Errorf("%w: trailId must match [A-Za-z0-9-]+", ErrInvalidInput)
	}
	m, ok := telemetry.Coerce(req.Moisture)
	if !ok {
		return telemetry.Reading{}, fmt.Errorf("%w: moisture must be a number", ErrInvalidInput)
	}
	r := telemetry.Reading{TrailID: req.TrailID, Moisture: m}
	if req.Battery != nil {
		b, ok := telemetry.Coerce(req.Battery)
		if !ok {
			return telemetry.Reading{}, fmt.Errorf("%w: battery must be a number", ErrInvalidInput)
		}
		r.Battery = &b
	}
	return r, nil
}

func (s *Service) count(source, outcome string) {
	if s.counter != nil {
		s.counter.IncIngest(source, outcome)
	}
}
