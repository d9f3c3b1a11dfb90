package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/trailwatch/trailwatch/server/internal/ratelimit"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// guard wraps next with the fixed request pipeline: CORS preflight,
// admission, rate limiting, then next. requiresWrite selects the API-key
// admission path.
func (h *Handler) guard(route string, requiresWrite bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() { h.metrics.ObserveHTTP(route, rec.code, time.Since(start)) }()

		origin := r.Header.Get("Origin")
		h.setCORS(rec, origin)

		if r.Method == http.MethodOptions {
			rec.WriteHeader(http.StatusNoContent)
			return
		}

		res := h.admission.Admit(origin, r.Header.Get(h.keyHeader), requiresWrite)
		if !res.Allowed {
			h.metrics.IncAdmissionRejected(string(res.Reason))
			if res.Forbidden() {
				jsonErr(rec, http.StatusForbidden, "Forbidden")
			} else {
				jsonErr(rec, http.StatusUnauthorized, "Unauthorized")
			}
			return
		}

		if h.limiter != nil && !h.limiter.Allow(ratelimit.ClientKey(r)) {
			h.metrics.IncRateLimited("http")
			jsonErr(rec, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next(rec, r)
	}
}

// setCORS echoes an allowed origin. Disallowed or absent origins get no
// CORS headers, so browsers block the response.
func (h *Handler) setCORS(w http.ResponseWriter, origin string) {
	w.Header().Add("Vary", "Origin")
	if origin == "" || !h.admission.OriginAllowed(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+canonicalHeader(h.keyHeader))
	w.Header().Set("Access-Control-Max-Age", "600")
}

// cacheable marks a successful read response as cacheable by shared caches.
func (h *Handler) cacheable(w http.ResponseWriter) {
	if h.cacheMaxAge <= 0 {
		w.Header().Set("Cache-Control", "no-store")
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("s-maxage=%d, stale-while-revalidate", int(h.cacheMaxAge.Seconds())))
}

func canonicalHeader(h string) string {
	return http.CanonicalHeaderKey(strings.TrimSpace(h))
}
