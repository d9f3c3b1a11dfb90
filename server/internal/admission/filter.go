package admission

import (
	"crypto/subtle"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonMissingOrigin   Reason = "missing_origin"
	ReasonForbiddenOrigin Reason = "forbidden_origin"
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonWriteDisabled   Reason = "write_disabled"
)

// Result is the outcome of Admit.
type Result struct {
	Allowed bool
	Reason  Reason
}

// Forbidden reports whether the rejection concerns the origin (403) rather
// than the credential (401).
func (r Result) Forbidden() bool {
	return r.Reason == ReasonMissingOrigin || r.Reason == ReasonForbiddenOrigin
}

// Policy is the set of knobs one deployment chooses.
type Policy struct {
	// RequireOrigin rejects reads without an Origin header.
	RequireOrigin bool

	// AllowedOrigins is the generic allow-list.
	AllowedOrigins []string

	// CanonicalOrigin is always admitted. Empty disables the carve-out.
	CanonicalOrigin string

	// APIKey is the shared write secret. Empty disables writes.
	APIKey string
}

// compiled is a Policy with normalised origins.
type compiled struct {
	policy  Policy
	origins map[string]struct{}
	key     []byte
}

// Filter evaluates requests against a Policy. It is safe for concurrent use.
type Filter struct {
	cur atomic.Pointer[compiled]
}

// New creates a Filter for p.
func New(p Policy) *Filter {
	f := &Filter{}
	f.SetPolicy(p)
	return f
}

// SetPolicy atomically replaces the active policy.
func (f *Filter) SetPolicy(p Policy) {
	c := &compiled{
		policy:  p,
		origins: make(map[string]struct{}, len(p.AllowedOrigins)+1),
		key:     []byte(p.APIKey),
	}
	for _, o := range p.AllowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			c.origins[n] = struct{}{}
		}
	}
	if n := normalizeOrigin(p.CanonicalOrigin); n != "" {
		c.origins[n] = struct{}{}
	}
	if p.APIKey == "" {
		slog.Error("admission: no write API key configured, all writes will be rejected")
	}
	f.cur.Store(c)
}

// Policy returns the active policy.
func (f *Filter) Policy() Policy {
	return f.cur.Load().policy
}

// Admit decides whether a request may proceed. An empty origin or apiKey
// means the header was absent.
func (f *Filter) Admit(origin, apiKey string, requiresWrite bool) Result {
	c := f.cur.Load()
	if requiresWrite {
		return c.admitWrite(apiKey)
	}
	return c.admitRead(origin)
}

// OriginAllowed reports whether origin is on the allow-list or is the
// canonical origin. It is used to decide CORS response headers.
func (f *Filter) OriginAllowed(origin string) bool {
	_, ok := f.cur.Load().origins[normalizeOrigin(origin)]
	return ok && origin != ""
}

func (c *compiled) admitRead(origin string) Result {
	if origin == "" {
		if c.policy.RequireOrigin {
			return Result{Reason: ReasonMissingOrigin}
		}
		return Result{Allowed: true, Reason: ReasonOK}
	}
	if _, ok := c.origins[normalizeOrigin(origin)]; !ok {
		return Result{Reason: ReasonForbiddenOrigin}
	}
	return Result{Allowed: true, Reason: ReasonOK}
}

func (c *compiled) admitWrite(apiKey string) Result {
	if len(c.key) == 0 {
		slog.Warn("admission: write rejected, server has no API key configured")
		return Result{Reason: ReasonWriteDisabled}
	}
	if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), c.key) != 1 {
		return Result{Reason: ReasonUnauthorized}
	}
	return Result{Allowed: true, Reason: ReasonOK}
}

// normalizeOrigin lower-cases an origin and strips trailing slashes so that
// "https://Example.com/" and "https://example.com" compare equal.
func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
