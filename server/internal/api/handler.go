package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/admission"
	"github.com/trailwatch/trailwatch/server/internal/alerts"
	"github.com/trailwatch/trailwatch/server/internal/ingest"
	"github.com/trailwatch/trailwatch/server/internal/metrics"
	"github.com/trailwatch/trailwatch/server/internal/query"
	"github.com/trailwatch/trailwatch/server/internal/ratelimit"
)

const (
	maxBodyBytes         = 16 << 10
	defaultDetailWindow  = telemetry.Window24h
	defaultHistoryWindow = telemetry.WindowWeek
)

// AlertLister lists firing and recently resolved alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Options wires a Handler. Query, Ingest and Admission are required.
type Options struct {
	Query     *query.Engine
	Ingest    *ingest.Service
	Admission *admission.Filter
	// Limiter may be nil to disable rate limiting.
	Limiter ratelimit.Limiter
	// Alerts may be nil; /api/v1/alerts then returns an empty list.
	Alerts  AlertLister
	Metrics *metrics.Recorder

	// KeyHeader carries the write API key. Defaults to x-api-key.
	KeyHeader string
	// CacheMaxAge is the shared-cache lifetime of successful reads.
	CacheMaxAge time.Duration
	// HistoryWindow is the default window of ?history=true.
	HistoryWindow time.Duration
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	query         *query.Engine
	ingest        *ingest.Service
	admission     *admission.Filter
	limiter       ratelimit.Limiter
	alerts        AlertLister
	metrics       *metrics.Recorder
	keyHeader     string
	cacheMaxAge   time.Duration
	historyWindow time.Duration
	mux           *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(o Options) http.Handler {
	h := &Handler{
		query:         o.Query,
		ingest:        o.Ingest,
		admission:     o.Admission,
		limiter:       o.Limiter,
		alerts:        o.Alerts,
		metrics:       o.Metrics,
		keyHeader:     o.KeyHeader,
		cacheMaxAge:   o.CacheMaxAge,
		historyWindow: o.HistoryWindow,
		mux:           http.NewServeMux(),
	}
	if h.keyHeader == "" {
		h.keyHeader = "x-api-key"
	}
	if h.historyWindow <= 0 {
		h.historyWindow = defaultHistoryWindow
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/trail", h.guard("/api/v1/trail", false, h.trailByQuery))
	h.mux.HandleFunc("/api/v1/trails", h.guard("/api/v1/trails", false, h.listTrails))
	h.mux.HandleFunc("/api/v1/trails/", h.guard("/api/v1/trails/{id}", false, h.trailSubtree)) // subtree: {id} and {id}/history
	h.mux.HandleFunc("/api/v1/readings", h.guard("/api/v1/readings", true, h.postReading))
	h.mux.HandleFunc("/api/v1/alerts", h.guard("/api/v1/alerts", false, h.listAlerts))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health. It bypasses admission and rate
// limiting so load balancer probes are never throttled, but answers CORS
// preflight like every other route.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.setCORS(w, r.Header.Get("Origin"))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := HealthResponse{Status: "ok", Time: h.query.Now().UTC().Format(time.RFC3339)}
	statuses, err := h.query.Snapshot(r.Context())
	switch {
	case err == nil:
		resp.TrailCount = len(statuses)
		for _, st := range statuses {
			if st.Offline {
				resp.OfflineCount++
			}
		}
	case errors.Is(err, query.ErrNotFound):
	default:
		slog.Warn("api: health snapshot failed", "err", err)
		resp.Status = "degraded"
	}
	if h.alerts != nil {
		for _, a := range h.alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// trailByQuery returns GET /api/v1/trail?trailId=ID.
func (h *Handler) trailByQuery(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	h.latest(w, r, r.URL.Query().Get("trailId"))
}

// trailSubtree dispatches /api/v1/trails/{id} and /api/v1/trails/{id}/history.
func (h *Handler) trailSubtree(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/trails/"), "/")
	if rest == "" {
		h.listTrails(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		h.latest(w, r, id)
	case "history":
		h.history(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "Not found")
	}
}

// latest writes the single-trail view. A trail with no readings is 200 with
// a null reading.
func (h *Handler) latest(w http.ResponseWriter, r *http.Request, trailID string) {
	if !validTrail(w, trailID) {
		return
	}
	sr, err := h.query.Latest(r.Context(), trailID)
	if err != nil {
		h.internal(w, "latest", trailID, err)
		return
	}
	resp := TrailResponse{TrailID: trailID}
	if sr != nil {
		rr := toReading(sr.Reading)
		resp.Reading = &rr
	}
	h.cacheable(w)
	jsonResp(w, http.StatusOK, resp)
}

// listTrails returns GET /api/v1/trails[?history=true&window=7d].
func (h *Handler) listTrails(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	withHistory, _ := strconv.ParseBool(q.Get("history"))

	var (
		resp TrailsResponse
		err  error
	)
	if withHistory {
		win, perr := telemetry.ParseWindow(q.Get("window"), h.historyWindow)
		if perr != nil {
			jsonErr(w, http.StatusBadRequest, "Invalid window")
			return
		}
		var snap query.HistorySnapshot
		snap, err = h.query.SnapshotWithHistory(r.Context(), win)
		resp = BuildTrailsWithHistory(snap)
	} else {
		var statuses []query.Status
		statuses, err = h.query.Snapshot(r.Context())
		resp = BuildTrails(statuses)
	}
	if errors.Is(err, query.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "No trail data found")
		return
	}
	if err != nil {
		h.internal(w, "snapshot", "", err)
		return
	}
	h.cacheable(w)
	jsonResp(w, http.StatusOK, resp)
}

// history returns GET /api/v1/trails/{id}/history?window=24h&smooth=3.
func (h *Handler) history(w http.ResponseWriter, r *http.Request, trailID string) {
	if !validTrail(w, trailID) {
		return
	}
	q := r.URL.Query()
	win, err := telemetry.ParseWindow(q.Get("window"), defaultDetailWindow)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "Invalid window")
		return
	}
	k := 0
	if s := q.Get("smooth"); s != "" {
		k, err = strconv.Atoi(s)
		if err != nil || k < 0 {
			jsonErr(w, http.StatusBadRequest, "Invalid smoothing window")
			return
		}
	}

	hist, err := h.query.History(r.Context(), trailID, win, k)
	if errors.Is(err, query.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "No trail data found")
		return
	}
	if err != nil {
		h.internal(w, "history", trailID, err)
		return
	}

	resp := HistoryResponse{
		TrailID:   trailID,
		Window:    win.String(),
		Readings:  toReadings(hist.Readings),
		Smoothed:  hist.Smoothed,
		Offline:   hist.Offline,
		Condition: hist.Condition,
	}
	if hist.Latest != nil {
		rr := toReading(*hist.Latest)
		resp.Latest = &rr
	}
	h.cacheable(w)
	jsonResp(w, http.StatusOK, resp)
}

// postReading returns POST /api/v1/readings.
func (h *Handler) postReading(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var body IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := h.ingest.Ingest(r.Context(), ingest.Request{
		TrailID:  body.TrailID,
		Moisture: body.Moisture,
		Battery:  body.Battery,
		Source:   "http",
	})
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.internal(w, "ingest", body.TrailID, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	jsonResp(w, http.StatusOK, IngestResponse{Success: true, Moisture: res.Moisture, Battery: res.Battery})
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = h.alerts.Active()
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// internal logs err with its context and answers with a generic 500.
func (h *Handler) internal(w http.ResponseWriter, op, trailID string, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("api: request cancelled", "op", op, "trail_id", trailID)
	} else {
		slog.Error("api: request failed", "op", op, "trail_id", trailID, "err", err)
	}
	jsonErr(w, http.StatusInternalServerError, "Internal server error")
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func validTrail(w http.ResponseWriter, id string) bool {
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "Trail ID required")
		return false
	}
	if !telemetry.ValidTrailID(id) {
		jsonErr(w, http.StatusBadRequest, "Invalid trail ID format")
		return false
	}
	return true
}
