package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/admission"
	"github.com/trailwatch/trailwatch/server/internal/alerts"
	"github.com/trailwatch/trailwatch/server/internal/api"
	"github.com/trailwatch/trailwatch/server/internal/ingest"
	"github.com/trailwatch/trailwatch/server/internal/query"
	"github.com/trailwatch/trailwatch/server/internal/ratelimit"
	"github.com/trailwatch/trailwatch/server/internal/store"
)

const testKey = "supersecret"

// --- test helpers -----------------------------------------------------------

type env struct {
	h     http.Handler
	store store.Store
}

func defaultPolicy() admission.Policy {
	return admission.Policy{
		AllowedOrigins:  []string{"https://live-trail-server.vercel.app/"},
		CanonicalOrigin: "https://trailsilvania.com",
		APIKey:          testKey,
	}
}

func newEnv(t *testing.T, mutate func(*api.Options)) *env {
	t.Helper()
	st := store.NewMemory()
	o := api.Options{
		Query:       query.New(st, query.Options{}),
		Ingest:      ingest.New(st),
		Admission:   admission.New(defaultPolicy()),
		CacheMaxAge: 30 * time.Second,
	}
	if mutate != nil {
		mutate(&o)
	}
	return &env{h: api.New(o), store: st}
}

func (e *env) seed(t *testing.T, trailID string, moisture float64, ago time.Duration) {
	t.Helper()
	r := telemetry.Reading{Moisture: moisture, Timestamp: time.Now().Add(-ago).UnixMilli()}
	if _, err := e.store.Append(context.Background(), trailID, r); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, httptest.NewRequest(http.MethodGet, path, nil))
}

func post(t *testing.T, h http.Handler, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	return do(t, h, req)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["error"] != msg {
		t.Errorf("error: got %v, want %q", resp["error"], msg)
	}
}

// --- single trail -----------------------------------------------------------

func TestTrail_Latest(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "4", 310, 2*time.Hour)
	e.seed(t, "4", 325, 10*time.Minute)

	for _, path := range []string{"/api/v1/trail?trailId=4", "/api/v1/trails/4"} {
		t.Run(path, func(t *testing.T) {
			rr := get(t, e.h, path)
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d, want 200", rr.Code)
			}
			if cc := rr.Header().Get("Cache-Control"); cc != "s-maxage=30, stale-while-revalidate" {
				t.Errorf("Cache-Control: got %q", cc)
			}
			var resp api.TrailResponse
			decode(t, rr, &resp)
			if resp.TrailID != "4" || resp.Cached {
				t.Errorf("envelope: got %+v", resp)
			}
			if resp.Reading == nil || resp.Reading.Moisture != 325 {
				t.Errorf("reading: got %+v, want moisture 325", resp.Reading)
			}
		})
	}
}

func TestTrail_NoReadingsIsNullNot404(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/trail?trailId=99")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if v, ok := resp["reading"]; !ok || v != nil {
		t.Errorf("reading: got %v (present=%v), want explicit null", v, ok)
	}
}

func TestTrail_BadIDs(t *testing.T) {
	e := newEnv(t, nil)
	wantError(t, get(t, e.h, "/api/v1/trail"), http.StatusBadRequest, "Trail ID required")
	wantError(t, get(t, e.h, "/api/v1/trail?trailId=a_b"), http.StatusBadRequest, "Invalid trail ID format")
	wantError(t, get(t, e.h, "/api/v1/trails/a.b"), http.StatusBadRequest, "Invalid trail ID format")
}

// --- snapshot ---------------------------------------------------------------

func TestTrails_NumericOrderAndFields(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "10", 390, time.Minute)
	e.seed(t, "2", 290, 3*time.Hour)

	rr := get(t, e.h, "/api/v1/trails")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.TrailsResponse
	decode(t, rr, &resp)
	if !resp.Success || resp.Count != 2 || len(resp.Trails) != 2 {
		t.Fatalf("envelope: got %+v", resp)
	}
	if resp.Trails[0].TrailID != "2" || resp.Trails[1].TrailID != "10" {
		t.Errorf("order: got %s, %s; want 2, 10", resp.Trails[0].TrailID, resp.Trails[1].TrailID)
	}
	if !resp.Trails[0].Offline || resp.Trails[0].Condition != "Slippery" {
		t.Errorf("trail 2: got %+v", resp.Trails[0])
	}
	if resp.Trails[1].Offline || resp.Trails[1].Condition != "Dry" || resp.Trails[1].ReadingID == "" {
		t.Errorf("trail 10: got %+v", resp.Trails[1])
	}
	if resp.DataRange != nil || resp.Trails[0].Last7Days != nil {
		t.Error("history fields present without ?history=true")
	}
}

func TestTrails_WithHistory_EmptyWindowEmitsEmptyList(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "1", 300, 10*24*time.Hour)

	rr := get(t, e.h, "/api/v1/trails?history=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"last7Days":[]`) {
		t.Errorf("body lacks an empty last7Days list: %s", rr.Body.String())
	}

	rr = get(t, e.h, "/api/v1/trails")
	if strings.Contains(rr.Body.String(), "last7Days") {
		t.Errorf("last7Days present without ?history=true: %s", rr.Body.String())
	}
}

func TestTrails_Empty404(t *testing.T) {
	e := newEnv(t, nil)
	wantError(t, get(t, e.h, "/api/v1/trails"), http.StatusNotFound, "No trail data found")
}

func TestTrails_WithHistory(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "1", 300, 10*24*time.Hour)
	e.seed(t, "1", 310, 3*24*time.Hour)
	e.seed(t, "1", 320, time.Hour)

	rr := get(t, e.h, "/api/v1/trails?history=true")
	var resp api.TrailsResponse
	decode(t, rr, &resp)
	if len(resp.Trails) != 1 || len(resp.Trails[0].Last7Days) != 2 {
		t.Fatalf("last7Days: got %+v", resp.Trails)
	}
	if resp.DataRange == nil {
		t.Fatal("dataRange: got nil")
	}
	from, err := time.Parse(time.RFC3339, resp.DataRange.From)
	if err != nil {
		t.Fatalf("dataRange.from: %v", err)
	}
	if d := time.Since(from); d < 71*time.Hour || d > 73*time.Hour {
		t.Errorf("dataRange.from: %s ago, want about 72h", d)
	}

	rr = get(t, e.h, "/api/v1/trails?history=true&window=24h")
	decode(t, rr, &resp)
	if len(resp.Trails[0].Last7Days) != 1 {
		t.Errorf("24h window: got %d readings, want 1", len(resp.Trails[0].Last7Days))
	}

	wantError(t, get(t, e.h, "/api/v1/trails?history=true&window=sometime"), http.StatusBadRequest, "Invalid window")
}

// --- history ----------------------------------------------------------------

func TestHistory_Smoothed(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "8", 300, 3*time.Hour)
	e.seed(t, "8", 320, 2*time.Hour)
	e.seed(t, "8", 340, time.Hour)

	rr := get(t, e.h, "/api/v1/trails/8/history?window=24h&smooth=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.HistoryResponse
	decode(t, rr, &resp)
	if len(resp.Readings) != 3 || len(resp.Smoothed) != 2 {
		t.Fatalf("got %d readings, %d smoothed", len(resp.Readings), len(resp.Smoothed))
	}
	if resp.Smoothed[0].Moisture != 310 || resp.Smoothed[1].Moisture != 330 {
		t.Errorf("smoothed: got %+v", resp.Smoothed)
	}
	if resp.Latest == nil || resp.Latest.Moisture != 340 || resp.Condition != "Hero Dirt" || resp.Offline {
		t.Errorf("latest/condition/offline: got %+v %q %v", resp.Latest, resp.Condition, resp.Offline)
	}
}

func TestHistory_Errors(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "8", 300, time.Hour)
	wantError(t, get(t, e.h, "/api/v1/trails/9/history"), http.StatusNotFound, "No trail data found")
	wantError(t, get(t, e.h, "/api/v1/trails/8/history?smooth=x"), http.StatusBadRequest, "Invalid smoothing window")
	wantError(t, get(t, e.h, "/api/v1/trails/8/history?window=-1h"), http.StatusBadRequest, "Invalid window")
	wantError(t, get(t, e.h, "/api/v1/trails/8/other"), http.StatusNotFound, "Not found")
}

// --- write path -------------------------------------------------------------

func TestPostReading_Success(t *testing.T) {
	e := newEnv(t, nil)
	rr := post(t, e.h, `{"trailId":"3","moisture":"312","battery":91}`, testKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	if !resp.Success || resp.Moisture != 312 || resp.Battery == nil || *resp.Battery != 91 {
		t.Errorf("got %+v", resp)
	}

	got, _ := e.store.ReadLatest(context.Background(), "3", 1)
	if len(got) != 1 || got[0].Moisture != 312 {
		t.Errorf("stored: got %+v", got)
	}
}

func TestPostReading_ClientTimestampIgnored(t *testing.T) {
	e := newEnv(t, nil)
	before := time.Now().UnixMilli()
	post(t, e.h, `{"trailId":"3","moisture":300,"timestamp":1}`, testKey)
	got, _ := e.store.ReadLatest(context.Background(), "3", 1)
	if len(got) != 1 || got[0].Timestamp < before {
		t.Errorf("timestamp: got %+v, want server time", got)
	}
}

func TestPostReading_Admission(t *testing.T) {
	e := newEnv(t, nil)
	wantError(t, post(t, e.h, `{"trailId":"3","moisture":300}`, ""), http.StatusUnauthorized, "Unauthorized")
	wantError(t, post(t, e.h, `{"trailId":"3","moisture":300}`, "wrong"), http.StatusUnauthorized, "Unauthorized")

	noKey := newEnv(t, func(o *api.Options) {
		p := defaultPolicy()
		p.APIKey = ""
		o.Admission = admission.New(p)
	})
	wantError(t, post(t, noKey.h, `{"trailId":"3","moisture":300}`, "anything"), http.StatusUnauthorized, "Unauthorized")
}

func TestPostReading_InvalidInput(t *testing.T) {
	e := newEnv(t, nil)
	wantError(t, post(t, e.h, `{"trailId":"3","moisture":"soggy"}`, testKey), http.StatusBadRequest, "invalid input: moisture must be a number")
	wantError(t, post(t, e.h, `{not json`, testKey), http.StatusBadRequest, "Invalid JSON body")

	if ids, _ := e.store.ListTrailIDs(context.Background()); len(ids) != 0 {
		t.Errorf("store written on invalid input: %v", ids)
	}
}

type brokenStore struct{ *store.Memory }

func (brokenStore) Append(context.Context, string, telemetry.Reading) (string, error) {
	return "", errors.Join(store.ErrUnavailable, errors.New("disk on fire"))
}

func (brokenStore) ReadLatest(context.Context, string, int) ([]telemetry.StoredReading, error) {
	return nil, store.ErrUnavailable
}

func TestStoreFailure_GenericInternalError(t *testing.T) {
	st := brokenStore{store.NewMemory()}
	h := api.New(api.Options{
		Query:     query.New(st, query.Options{}),
		Ingest:    ingest.New(st),
		Admission: admission.New(defaultPolicy()),
	})

	rr := post(t, h, `{"trailId":"3","moisture":300}`, testKey)
	wantError(t, rr, http.StatusInternalServerError, "Internal server error")

	rr = get(t, h, "/api/v1/trail?trailId=3")
	if strings.Contains(rr.Body.String(), "unavailable") {
		t.Errorf("internal detail leaked: %s", rr.Body.String())
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

// --- admission, CORS, rate limit ---------------------------------------------

func TestRead_OriginPolicy(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t, "1", 300, time.Minute)

	cases := []struct {
		origin string
		code   int
	}{
		{"", http.StatusOK},
		{"https://trailsilvania.com", http.StatusOK},
		{"https://live-trail-server.vercel.app", http.StatusOK},
		{"https://evil.example", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/trails", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := do(t, e.h, req)
			if rr.Code != tc.code {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.code)
			}
			acao := rr.Header().Get("Access-Control-Allow-Origin")
			if tc.code == http.StatusOK && tc.origin != "" && acao != tc.origin {
				t.Errorf("Access-Control-Allow-Origin: got %q, want %q", acao, tc.origin)
			}
			if tc.code == http.StatusForbidden && acao != "" {
				t.Errorf("Access-Control-Allow-Origin on forbidden origin: %q", acao)
			}
		})
	}
}

func TestRead_StrictPolicyRejectsMissingOrigin(t *testing.T) {
	e := newEnv(t, func(o *api.Options) {
		p := defaultPolicy()
		p.RequireOrigin = true
		o.Admission = admission.New(p)
	})
	wantError(t, get(t, e.h, "/api/v1/trail?trailId=1"), http.StatusForbidden, "Forbidden")
}

func TestPreflight(t *testing.T) {
	e := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/readings", nil)
	req.Header.Set("Origin", "https://trailsilvania.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rr := do(t, e.h, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rr.Code)
	}
	h := rr.Header()
	if h.Get("Access-Control-Allow-Origin") != "https://trailsilvania.com" {
		t.Errorf("allow-origin: got %q", h.Get("Access-Control-Allow-Origin"))
	}
	if h.Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" {
		t.Errorf("allow-methods: got %q", h.Get("Access-Control-Allow-Methods"))
	}
	if h.Get("Access-Control-Allow-Headers") != "Content-Type, X-Api-Key" {
		t.Errorf("allow-headers: got %q", h.Get("Access-Control-Allow-Headers"))
	}
	if h.Get("Vary") != "Origin" {
		t.Errorf("vary: got %q", h.Get("Vary"))
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(o *api.Options) {
		o.Limiter = ratelimit.NewSlidingLog(2, time.Minute, 0)
	})
	e.seed(t, "1", 300, time.Minute)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/trail?trailId=1", nil)
		r.Header.Set("X-Forwarded-For", ip)
		return r
	}
	for i := 0; i < 2; i++ {
		if rr := do(t, e.h, req("203.0.113.5")); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i+1, rr.Code)
		}
	}
	wantError(t, do(t, e.h, req("203.0.113.5")), http.StatusTooManyRequests, "Too many requests")
	if rr := do(t, e.h, req("203.0.113.6")); rr.Code != http.StatusOK {
		t.Errorf("other client: got %d, want 200", rr.Code)
	}
}

func TestRateLimit_UnauthorizedDoesNotSpendQuota(t *testing.T) {
	lim := ratelimit.NewFixedWindow(1, time.Minute, 0)
	e := newEnv(t, func(o *api.Options) { o.Limiter = lim })

	for i := 0; i < 3; i++ {
		post(t, e.h, `{"trailId":"3","moisture":300}`, "wrong")
	}
	if n := lim.Len(); n != 0 {
		t.Errorf("limiter tracked %d clients after rejected writes, want 0", n)
	}
	if rr := post(t, e.h, `{"trailId":"3","moisture":300}`, testKey); rr.Code != http.StatusOK {
		t.Errorf("authorized write: got %d, want 200", rr.Code)
	}
}

// --- misc -------------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, nil)
	cases := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/trails"},
		{http.MethodDelete, "/api/v1/trails/1"},
		{http.MethodGet, "/api/v1/readings"},
		{http.MethodPost, "/api/v1/health"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("x-api-key", testKey)
			wantError(t, do(t, e.h, req), http.StatusMethodNotAllowed, "method not allowed")
		})
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/health")
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if rr.Code != http.StatusOK || resp.Status != "ok" || resp.TrailCount != 0 {
		t.Errorf("empty store: got %d %+v", rr.Code, resp)
	}

	e.seed(t, "1", 300, time.Minute)
	e.seed(t, "2", 300, 5*time.Hour)
	rr = get(t, e.h, "/api/v1/health")
	decode(t, rr, &resp)
	if resp.TrailCount != 2 || resp.OfflineCount != 1 {
		t.Errorf("got %+v, want 2 trails, 1 offline", resp)
	}
}

func TestHealth_Preflight(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://trailsilvania.com")
	rr := do(t, e.h, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("OPTIONS /api/v1/health: got %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://trailsilvania.com" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}

	rr = do(t, e.h, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	if got := rr.Header().Get("Allow"); got != "GET, OPTIONS" {
		t.Errorf("Allow on 405: got %q, want %q", got, "GET, OPTIONS")
	}
}

type staticAlerts []*alerts.Alert

func (s staticAlerts) Active() []*alerts.Alert { return s }

func TestAlerts(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/alerts")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("no engine: got %d %s", rr.Code, rr.Body.String())
	}

	e = newEnv(t, func(o *api.Options) {
		o.Alerts = staticAlerts{{RuleName: "dusty", TrailID: "2", State: "firing"}}
	})
	rr = get(t, e.h, "/api/v1/alerts")
	var out []map[string]interface{}
	decode(t, rr, &out)
	if len(out) != 1 || out[0]["trail_id"] != "2" {
		t.Errorf("got %v", out)
	}
}
