package mqttbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/trailwatch/trailwatch/server/internal/ingest"
)

const (
	connectTimeout = 10 * time.Second
	ingestTimeout  = 5 * time.Second
	idleLimiterTTL = time.Hour
	sweepInterval  = 10 * time.Minute
)

// Drop reasons reported to the DropCounter.
const (
	DropTopic       = "topic"
	DropDecode      = "decode"
	DropInvalid     = "invalid"
	DropRateLimited = "rate_limited"
	DropStore       = "store"
)

// DropCounter is told about every message the bridge discards.
// *metrics.Recorder implements it.
type DropCounter interface {
	IncMQTTDropped(reason string)
}

// Options configures a Bridge.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string

	// PerTrailInterval is the sustained minimum spacing between accepted
	// messages for one trail. Zero disables per-trail limiting.
	PerTrailInterval time.Duration
	Burst            int

	Drops DropCounter
}

// payload is the JSON body of one published reading.
type payload struct {
	Moisture any `json:"moisture"`
	Battery  any `json:"battery"`
}

type trailLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Bridge subscribes to sensor publishes and hands them to the ingest service.
type Bridge struct {
	opts    Options
	ingest  *ingest.Service
	idLevel int
	levels  []string
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*trailLimiter
}

// New creates a Bridge that writes accepted readings through svc.
// The topic filter must contain exactly one "+" level.
func New(svc *ingest.Service, o Options) (*Bridge, error) {
	if o.Broker == "" {
		return nil, errors.New("mqttbridge: broker is required")
	}
	if o.ClientID == "" {
		o.ClientID = "trailwatch-server"
	}
	if o.Topic == "" {
		o.Topic = "trails/+/readings"
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}

	levels := strings.Split(o.Topic, "/")
	idLevel := -1
	for i, l := range levels {
		switch {
		case l == "+" && idLevel == -1:
			idLevel = i
		case l == "+" || l == "#":
			return nil, fmt.Errorf("mqttbridge: topic %q must contain exactly one '+' and no '#'", o.Topic)
		}
	}
	if idLevel == -1 {
		return nil, fmt.Errorf("mqttbridge: topic %q has no '+' level for the trail id", o.Topic)
	}

	return &Bridge{
		opts:     o,
		ingest:   svc,
		idLevel:  idLevel,
		levels:   levels,
		now:      time.Now,
		limiters: make(map[string]*trailLimiter),
	}, nil
}

// Run connects to the broker, subscribes and processes messages until ctx is
// cancelled. It returns an error only if the first connection attempt fails;
// later disconnects are retried by the client.
func (b *Bridge) Run(ctx context.Context) error {
	co := mqtt.NewClientOptions().
		AddBroker(b.opts.Broker).
		SetClientID(b.opts.ClientID).
		SetUsername(b.opts.Username).
		SetPassword(b.opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout)

	// Subscriptions do not survive a clean-session reconnect.
	co.SetOnConnectHandler(func(c mqtt.Client) {
		tok := c.Subscribe(b.opts.Topic, 1, func(_ mqtt.Client, m mqtt.Message) {
			b.handle(ctx, m.Topic(), m.Payload())
		})
		if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
			slog.Error("mqttbridge: subscribe failed", "topic", b.opts.Topic, "err", tok.Error())
			return
		}
		slog.Info("mqttbridge: subscribed", "broker", b.opts.Broker, "topic", b.opts.Topic)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqttbridge: connection lost", "err", err)
	})

	client := mqtt.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqttbridge: connect %s: timed out", b.opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect %s: %w", b.opts.Broker, err)
	}

	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			slog.Info("mqttbridge: disconnected")
			return nil
		case <-t.C:
			b.sweep()
		}
	}
}

// TrailID extracts the trail id from a received topic, or false if the topic
// does not match the subscription filter.
func (b *Bridge) TrailID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(b.levels) {
		return "", false
	}
	for i, l := range b.levels {
		if i != b.idLevel && l != parts[i] {
			return "", false
		}
	}
	id := parts[b.idLevel]
	return id, id != ""
}

func (b *Bridge) handle(ctx context.Context, topic string, body []byte) {
	id, ok := b.TrailID(topic)
	if !ok {
		b.drop(DropTopic, "topic", topic)
		return
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		b.drop(DropDecode, "trail_id", id, "err", err)
		return
	}

	if !b.allow(id) {
		b.drop(DropRateLimited, "trail_id", id)
		return
	}

	ictx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()
	_, err := b.ingest.Ingest(ictx, ingest.Request{
		TrailID:  id,
		Moisture: p.Moisture,
		Battery:  p.Battery,
		Source:   "mqtt",
	})
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		b.drop(DropInvalid, "trail_id", id, "err", err)
	case err != nil:
		b.drop(DropStore, "trail_id", id, "err", err)
	}
}

func (b *Bridge) allow(trailID string) bool {
	if b.opts.PerTrailInterval <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tl, ok := b.limiters[trailID]
	if !ok {
		tl = &trailLimiter{limiter: rate.NewLimiter(rate.Every(b.opts.PerTrailInterval), b.opts.Burst)}
		b.limiters[trailID] = tl
	}
	now := b.now()
	tl.lastSeen = now
	return tl.limiter.AllowN(now, 1)
}

// sweep forgets limiters of trails that have been quiet for an hour.
func (b *Bridge) sweep() {
	cutoff := b.now().Add(-idleLimiterTTL)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, tl := range b.limiters {
		if tl.lastSeen.Before(cutoff) {
			delete(b.limiters, id)
		}
	}
}

func (b *Bridge) drop(reason string, args ...any) {
	if b.opts.Drops != nil {
		b.opts.Drops.IncMQTTDropped(reason)
	}
	slog.Warn("mqttbridge: message dropped", append([]any{"reason", reason}, args...)...)
}
