package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/trailwatch/trailwatch/agent/internal/config"
	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

type exporterScraper struct {
	src    config.Source
	client *http.Client
}

// Scrape fetches the exporter endpoint and returns one Sample per trail that
// has a moisture series.
func (s *exporterScraper) Scrape(ctx context.Context) ([]Sample, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("scrape %q: %w", s.src.ID, err)
	}
	return Extract(s.src, mfs), nil
}

// Extract joins the moisture and battery families of mfs by trail label.
// Series with an invalid trail id or a non-finite value are skipped. The
// result is in trail id order.
func Extract(src config.Source, mfs map[string]*dto.MetricFamily) []Sample {
	battery := make(map[string]float64)
	if mf := mfs[src.BatteryMetric]; mf != nil {
		for _, m := range mf.GetMetric() {
			id := labelValue(m, src.TrailLabel)
			if v, ok := finite(m); ok && telemetry.ValidTrailID(id) {
				battery[id] = v
			}
		}
	}

	mf := mfs[src.MoistureMetric]
	if mf == nil {
		slog.Debug("scraper: moisture metric absent", "source", src.ID, "metric", src.MoistureMetric)
		return nil
	}

	byTrail := make(map[string]Sample, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		id := labelValue(m, src.TrailLabel)
		if !telemetry.ValidTrailID(id) {
			slog.Warn("scraper: skipping series with invalid trail id",
				"source", src.ID, "label", src.TrailLabel, "value", id)
			continue
		}
		v, ok := finite(m)
		if !ok {
			continue
		}
		smp := Sample{SourceID: src.ID, TrailID: id, Moisture: v}
		if m.TimestampMs != nil {
			smp.ExportedAt = time.UnixMilli(m.GetTimestampMs()).UTC()
		}
		if b, ok := battery[id]; ok {
			smp.Battery = &b
		}
		byTrail[id] = smp
	}

	ids := make([]string, 0, len(byTrail))
	for id := range byTrail {
		ids = append(ids, id)
	}
	telemetry.SortTrailIDs(ids)

	out := make([]Sample, 0, len(ids))
	for _, id := range ids {
		out = append(out, byTrail[id])
	}
	return out
}

func finite(m *dto.Metric) (float64, bool) {
	v, ok := metricValue(m)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
