package store

import (
	"context"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

// Observer receives one call per store operation.
type Observer interface {
	ObserveStore(op string, elapsed time.Duration, err error)
}

type instrumented struct {
	inner Store
	obs   Observer
}

// Instrument reports the latency and outcome of every call on inner to obs.
func Instrument(inner Store, obs Observer) Store {
	if obs == nil {
		return inner
	}
	return &instrumented{inner: inner, obs: obs}
}

func (s *instrumented) Append(ctx context.Context, trailID string, r telemetry.Reading) (string, error) {
	start := time.Now()
	key, err := s.inner.Append(ctx, trailID, r)
	s.obs.ObserveStore("append", time.Since(start), err)
	return key, err
}

func (s *instrumented) ReadLatest(ctx context.Context, trailID string, n int) ([]telemetry.StoredReading, error) {
	start := time.Now()
	rs, err := s.inner.ReadLatest(ctx, trailID, n)
	s.obs.ObserveStore("read_latest", time.Since(start), err)
	return rs, err
}

func (s *instrumented) ReadAll(ctx context.Context, trailID string) (map[string]telemetry.Reading, error) {
	start := time.Now()
	rs, err := s.inner.ReadAll(ctx, trailID)
	s.obs.ObserveStore("read_all", time.Since(start), err)
	return rs, err
}

func (s *instrumented) ListTrailIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.inner.ListTrailIDs(ctx)
	s.obs.ObserveStore("list_trails", time.Since(start), err)
	return ids, err
}

func (s *instrumented) Close() error { return s.inner.Close() }
