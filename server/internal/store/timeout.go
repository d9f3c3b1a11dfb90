package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

type timeoutStore struct {
	inner Store
	d     time.Duration
}

// WithTimeout bounds every call to inner by d. A call that runs out of time
// fails with ErrUnavailable instead of hanging the caller.
func WithTimeout(inner Store, d time.Duration) Store {
	if d <= 0 {
		return inner
	}
	return &timeoutStore{inner: inner, d: d}
}

func (t *timeoutStore) Append(ctx context.Context, trailID string, r telemetry.Reading) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	key, err := t.inner.Append(ctx, trailID, r)
	return key, t.check(ctx, "append", err)
}

func (t *timeoutStore) ReadLatest(ctx context.Context, trailID string, n int) ([]telemetry.StoredReading, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	rs, err := t.inner.ReadLatest(ctx, trailID, n)
	return rs, t.check(ctx, "read latest", err)
}

func (t *timeoutStore) ReadAll(ctx context.Context, trailID string) (map[string]telemetry.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	rs, err := t.inner.ReadAll(ctx, trailID)
	return rs, t.check(ctx, "read all", err)
}

func (t *timeoutStore) ListTrailIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	ids, err := t.inner.ListTrailIDs(ctx)
	return ids, t.check(ctx, "list trails", err)
}

func (t *timeoutStore) Close() error { return t.inner.Close() }

// check makes sure a deadline expiry is reported as ErrUnavailable even when
// the backend returned the bare context error.
func (t *timeoutStore) check(ctx context.Context, op string, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timed out after %s: %w", ErrUnavailable, op, t.d, err)
	}
	return err
}
