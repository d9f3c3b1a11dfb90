package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/trailwatch/trailwatch/server/internal/config"
	"github.com/trailwatch/trailwatch/server/internal/query"
)

const (
	defaultCooldown = 15 * time.Minute
	defaultInterval = 5 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
	pendingBufSize  = 256
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	TrailID    string     `json:"trail_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"

	// Trail reading at fire time, refreshed on resolve.
	Moisture  float64  `json:"moisture"`
	Battery   *float64 `json:"battery,omitempty"`
	Condition string   `json:"condition"`
	Offline   bool     `json:"offline"`
}

func (a *Alert) observe(st query.Status) {
	a.Moisture = st.Latest.Moisture
	a.Battery = nil
	if st.Latest.Battery != nil {
		b := *st.Latest.Battery
		a.Battery = &b
	}
	a.Condition = st.Condition
	a.Offline = st.Offline
}

// StatusSource supplies trail status. *query.Engine implements it.
type StatusSource interface {
	Status(ctx context.Context, trailID string) (query.Status, bool, error)
	Snapshot(ctx context.Context) ([]query.Status, error)
}

// Engine evaluates alert rules against trail status and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	interval time.Duration
	source   StatusSource
	pending  chan string

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:trailID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time // injectable for deterministic tests
}

// New creates an Engine from the server alert configuration.
// An Engine with no rules is valid and never fires.
func New(cfg config.AlertsConfig, src StatusSource) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		interval: interval,
		source:   src,
		pending:  make(chan string, pendingBufSize),
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Notify queues trailID for evaluation by Run. It never blocks; when the
// queue is full the trail is picked up by the next sweep instead.
func (e *Engine) Notify(trailID string) {
	if len(e.rules) == 0 {
		return
	}
	select {
	case e.pending <- trailID:
	default:
		slog.Debug("alerts: evaluation queue full, deferring to sweep", "trail_id", trailID)
	}
}

// Run evaluates queued trails as they arrive and every trail once per
// interval. Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if len(e.rules) == 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.pending:
			e.evaluateTrail(ctx, id)
		case <-t.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep evaluates every trail that has readings.
func (e *Engine) Sweep(ctx context.Context) {
	statuses, err := e.source.Snapshot(ctx)
	if err != nil {
		slog.Debug("alerts: sweep skipped", "err", err)
		return
	}
	for _, st := range statuses {
		e.Evaluate(st)
	}
}

func (e *Engine) evaluateTrail(ctx context.Context, trailID string) {
	st, ok, err := e.source.Status(ctx, trailID)
	if err != nil {
		slog.Warn("alerts: status lookup failed", "trail_id", trailID, "err", err)
		return
	}
	if ok {
		e.Evaluate(st)
	}
}

// Evaluate tests all configured rules against st.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(st query.Status) {
	now := e.now()
	for _, rule := range e.rules {
		key := rule.Name + ":" + st.TrailID
		fires, value := evalCondition(rule.Condition, st, now)

		e.mu.Lock()
		var out *Alert
		if fires {
			out = e.fireLocked(rule, key, st, value, now)
		} else {
			out = e.resolveLocked(key, st, now)
		}
		e.mu.Unlock()

		if out != nil {
			go e.deliver(out)
		}
	}
}

// fireLocked records a firing alert unless the rule is cooling down. It
// returns a copy for delivery, or nil.
func (e *Engine) fireLocked(rule config.AlertRule, key string, st query.Status, value float64, now time.Time) *Alert {
	trailID := st.TrailID
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if now.Sub(e.lastFire[key]) <= cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%s:%d", rule.Name, trailID, now.UnixNano()),
		RuleName: rule.Name,
		TrailID:  trailID,
		Severity: sev,
		Value:    value,
		Message:  fmt.Sprintf("[%s] %s fired on trail %s: %s (value %.2f)", sev, rule.Name, trailID, rule.Condition, value),
		FiredAt:  now,
		State:    "firing",
	}
	a.observe(st)
	e.active[key] = a
	e.lastFire[key] = now

	slog.Warn("alert fired", "rule", rule.Name, "trail_id", trailID, "value", value, "severity", sev)
	cp := *a
	return &cp
}

// resolveLocked moves a firing alert to history. It returns a copy for
// delivery, or nil when nothing was firing.
func (e *Engine) resolveLocked(key string, st query.Status, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	a.observe(st)
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}

	slog.Info("alert resolved", "rule", a.RuleName, "trail_id", a.TrailID)
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of currently firing alerts.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
