package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.IncIngest("http", "ok")
	r.IncIngest("http", "ok")
	r.IncIngest("mqtt", "invalid")
	if got := testutil.ToFloat64(r.ingest.WithLabelValues("http", "ok")); got != 2 {
		t.Fatalf("ingest http/ok: got %f, want 2", got)
	}
	if got := testutil.ToFloat64(r.ingest.WithLabelValues("mqtt", "invalid")); got != 1 {
		t.Fatalf("ingest mqtt/invalid: got %f, want 1", got)
	}

	r.ObserveStore("append", time.Millisecond, nil)
	r.ObserveStore("append", time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(r.storeErrors.WithLabelValues("append")); got != 1 {
		t.Fatalf("store errors: got %f, want 1", got)
	}
	if n := testutil.CollectAndCount(r.storeLatency); n != 1 {
		t.Fatalf("store latency series: got %d, want 1", n)
	}

	r.IncAdmissionRejected("forbidden_origin")
	r.IncRateLimited("http")
	r.IncMQTTDropped("flood")
	if got := testutil.ToFloat64(r.admission.WithLabelValues("forbidden_origin")); got != 1 {
		t.Fatalf("admission: got %f, want 1", got)
	}
	if got := testutil.ToFloat64(r.rateLimited.WithLabelValues("http")); got != 1 {
		t.Fatalf("rate limited: got %f, want 1", got)
	}
	if got := testutil.ToFloat64(r.mqttDropped.WithLabelValues("flood")); got != 1 {
		t.Fatalf("mqtt dropped: got %f, want 1", got)
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.IncIngest("http", "ok")
	r.ObserveStore("append", time.Second, nil)
	r.ObserveHTTP("/x", 200, time.Second)
	r.IncAdmissionRejected("x")
	r.IncRateLimited("x")
	r.IncMQTTDropped("x")
	r.GaugeFunc("x", "x", func() float64 { return 0 })
}

func TestHandler_ExposesFamilies(t *testing.T) {
	r := New()
	r.ObserveHTTP("/api/v1/trails", http.StatusOK, 3*time.Millisecond)
	r.GaugeFunc("ws_clients", "Connected clients.", func() float64 { return 4 })

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	reqs, ok := families["trailwatch_http_requests_total"]
	if !ok {
		t.Fatal("trailwatch_http_requests_total missing")
	}
	m := reqs.GetMetric()[0]
	labels := map[string]string{}
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["route"] != "/api/v1/trails" || labels["code"] != "200" {
		t.Errorf("labels: got %v", labels)
	}
	if m.GetCounter().GetValue() != 1 {
		t.Errorf("value: got %v, want 1", m.GetCounter().GetValue())
	}

	ws, ok := families["trailwatch_ws_clients"]
	if !ok || ws.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Errorf("ws_clients gauge: got %v", ws)
	}
	if _, ok := families["go_goroutines"]; !ok {
		t.Error("go runtime collector missing")
	}
}
