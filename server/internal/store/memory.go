package store

import (
	"context"
	"sync"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

// Memory is a thread-safe in-process Store, keyed by collection name.
// Data lives for the process lifetime.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]telemetry.StoredReading
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]telemetry.StoredReading)}
}

// Append implements Store.
func (m *Memory) Append(ctx context.Context, trailID string, r telemetry.Reading) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("append", trailID, err)
	}
	key, err := newKey()
	if err != nil {
		return "", err
	}
	r.TrailID = trailID

	m.mu.Lock()
	defer m.mu.Unlock()
	name := telemetry.CollectionName(trailID)
	m.collections[name] = append(m.collections[name], telemetry.StoredReading{Key: key, Reading: r})
	return key, nil
}

// ReadLatest implements Store.
func (m *Memory) ReadLatest(ctx context.Context, trailID string, n int) ([]telemetry.StoredReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read latest", trailID, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collections[telemetry.CollectionName(trailID)]
	if n > len(col) {
		n = len(col)
	}
	out := make([]telemetry.StoredReading, 0, n)
	for i := len(col) - 1; i >= len(col)-n; i-- {
		out = append(out, col[i])
	}
	return out, nil
}

// ReadAll implements Store.
func (m *Memory) ReadAll(ctx context.Context, trailID string) (map[string]telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read all", trailID, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	col := m.collections[telemetry.CollectionName(trailID)]
	out := make(map[string]telemetry.Reading, len(col))
	for _, sr := range col {
		out[sr.Key] = sr.Reading
	}
	return out, nil
}

// ListTrailIDs implements Store.
func (m *Memory) ListTrailIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list trails", "", err)
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.collections))
	for name, col := range m.collections {
		if len(col) == 0 {
			continue
		}
		if id, ok := telemetry.TrailFromCollection(name); ok {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	telemetry.SortTrailIDs(ids)
	return ids, nil
}

// Close implements Store. It is a no-op.
func (m *Memory) Close() error { return nil }
