package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

// ErrUnavailable is returned, wrapped, for every backend failure including
// timeouts.
var ErrUnavailable = errors.New("store unavailable")

// Store is an append-only log of readings keyed by trail.
type Store interface {
	// Append adds r to the trail's collection and returns its store key.
	Append(ctx context.Context, trailID string, r telemetry.Reading) (string, error)

	// ReadLatest returns up to n readings by store order, newest first.
	// Store order is append order and need not match timestamp order.
	ReadLatest(ctx context.Context, trailID string, n int) ([]telemetry.StoredReading, error)

	// ReadAll returns every reading of the trail keyed by store key.
	ReadAll(ctx context.Context, trailID string) (map[string]telemetry.Reading, error)

	// ListTrailIDs returns the ids of all trails with a collection, in
	// telemetry.SortTrailIDs order.
	ListTrailIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Options selects a backend for Open.
type Options struct {
	// Backend is one of: memory | sqlite | postgres.
	Backend string
	// Path is the SQLite database file.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open creates the configured backend and prepares its schema.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case "", "memory":
		return NewMemory(), nil
	case DialectSQLite:
		s, err := OpenSQLite(o.Path)
		if err != nil {
			return nil, err
		}
		return s, initOrClose(ctx, s)
	case DialectPostgres:
		s, err := OpenPostgres(o.DSN)
		if err != nil {
			return nil, err
		}
		return s, initOrClose(ctx, s)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", o.Backend)
	}
}

func initOrClose(ctx context.Context, s *SQL) error {
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// newKey returns a fresh store key. UUIDv7 keys sort roughly by creation
// time but readers must not rely on that.
func newKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate key: %w", ErrUnavailable, err)
	}
	return id.String(), nil
}

func unavailable(op, trailID string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrUnavailable, op, trailID, err)
}
