package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/store"
)

// countingStore counts appends on top of an in-memory store.
type countingStore struct {
	*store.Memory
	appends int
	fail    error
}

func (c *countingStore) Append(ctx context.Context, id string, r telemetry.Reading) (string, error) {
	c.appends++
	if c.fail != nil {
		return "", c.fail
	}
	return c.Memory.Append(ctx, id, r)
}

func newCountingStore() *countingStore { return &countingStore{Memory: store.NewMemory()} }

type counts map[string]int

func (c counts) IncIngest(source, outcome string) { c[source+"/"+outcome]++ }

func TestIngest_RoundTrip(t *testing.T) {
	st := newCountingStore()
	svc := New(st)

	before := time.Now().UnixMilli()
	res, err := svc.Ingest(context.Background(), Request{TrailID: "4", Moisture: 312.5, Battery: 88.0})
	after := time.Now().UnixMilli()
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Moisture != 312.5 || res.Battery == nil || *res.Battery != 88 {
		t.Errorf("echo: got %+v", res)
	}

	got, err := st.ReadLatest(context.Background(), "4", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("ReadLatest: %v, %v", got, err)
	}
	r := got[0]
	if r.Moisture != 312.5 || r.Battery == nil || *r.Battery != 88 {
		t.Errorf("stored: got %+v", r)
	}
	if r.Timestamp < before || r.Timestamp > after {
		t.Errorf("timestamp %d outside [%d, %d]", r.Timestamp, before, after)
	}
	if r.Key != res.Key {
		t.Errorf("key: stored %q, returned %q", r.Key, res.Key)
	}
}

func TestIngest_ServerClock(t *testing.T) {
	st := newCountingStore()
	svc := New(st)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.Ingest(context.Background(), Request{TrailID: "1", Moisture: 300}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	got, _ := st.ReadLatest(context.Background(), "1", 1)
	if got[0].Timestamp != fixed.UnixMilli() {
		t.Errorf("timestamp: got %d, want %d", got[0].Timestamp, fixed.UnixMilli())
	}
}

func TestIngest_CoercesNumericStrings(t *testing.T) {
	svc := New(newCountingStore())
	res, err := svc.Ingest(context.Background(), Request{TrailID: "1", Moisture: " 305 ", Battery: json.Number("76.5")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Moisture != 305 || *res.Battery != 76.5 {
		t.Errorf("got %+v", res)
	}
}

func TestIngest_InvalidInput_NoWrite(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"missing trail", Request{Moisture: 300}},
		{"bad trail id", Request{TrailID: "../etc", Moisture: 300}},
		{"moisture word", Request{TrailID: "1", Moisture: "wet"}},
		{"moisture blank", Request{TrailID: "1", Moisture: "  "}},
		{"moisture missing", Request{TrailID: "1"}},
		{"moisture bool", Request{TrailID: "1", Moisture: true}},
		{"moisture NaN", Request{TrailID: "1", Moisture: math.NaN()}},
		{"moisture object", Request{TrailID: "1", Moisture: map[string]any{"v": 1}}},
		{"battery word", Request{TrailID: "1", Moisture: 300, Battery: "full"}},
		{"battery inf", Request{TrailID: "1", Moisture: 300, Battery: math.Inf(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newCountingStore()
			_, err := New(st).Ingest(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err: got %v, want ErrInvalidInput", err)
			}
			if st.appends != 0 {
				t.Errorf("appends: got %d, want 0", st.appends)
			}
		})
	}
}

func TestIngest_StoreUnavailablePropagates(t *testing.T) {
	st := newCountingStore()
	st.fail = store.ErrUnavailable
	var notified int
	c := counts{}
	svc := New(st, NotifierFunc(func(string) { notified++ })).WithCounter(c)

	_, err := svc.Ingest(context.Background(), Request{TrailID: "1", Moisture: 300, Source: "http"})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err: got %v, want store.ErrUnavailable", err)
	}
	if st.appends != 1 {
		t.Errorf("appends: got %d, want exactly 1 (no retry)", st.appends)
	}
	if notified != 0 {
		t.Errorf("notified %d times after a failed append", notified)
	}
	if c["http/error"] != 1 {
		t.Errorf("counter: got %v", c)
	}
}

func TestIngest_NotifiesAfterAppend(t *testing.T) {
	st := newCountingStore()
	var got []string
	c := counts{}
	svc := New(st,
		NotifierFunc(func(id string) { got = append(got, "a:"+id) }),
		NotifierFunc(func(id string) { got = append(got, "b:"+id) }),
	).WithCounter(c)

	svc.Ingest(context.Background(), Request{TrailID: "12", Moisture: 300, Source: "mqtt"})
	svc.Ingest(context.Background(), Request{TrailID: "12", Moisture: "x", Source: "mqtt"})

	if len(got) != 2 || got[0] != "a:12" || got[1] != "b:12" {
		t.Errorf("notifications: got %v", got)
	}
	if c["mqtt/ok"] != 1 || c["mqtt/invalid"] != 1 {
		t.Errorf("counter: got %v", c)
	}
}
