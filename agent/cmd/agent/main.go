package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trailwatch/trailwatch/agent/internal/config"
	"github.com/trailwatch/trailwatch/agent/internal/dedup"
	"github.com/trailwatch/trailwatch/agent/internal/scraper"
	"github.com/trailwatch/trailwatch/agent/internal/shipper"
)

type pipeline struct {
	src config.Source
	s   scraper.Scraper
}

// pipelines is the set of sources scraped each tick. It is swapped wholesale
// on config reload.
type pipelines struct {
	mu   sync.RWMutex
	list []pipeline
}

func (p *pipelines) set(list []pipeline) {
	p.mu.Lock()
	p.list = list
	p.mu.Unlock()
}

func (p *pipelines) get() []pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.list
}

func buildPipelines(sources []config.Source) []pipeline {
	var out []pipeline
	for _, src := range sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		out = append(out, pipeline{src: src, s: s})
		slog.Info("registered source", "id", src.ID, "endpoint", src.Endpoint)
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("trailwatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Agent.LogLevel))
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pl pipelines
	pl.set(buildPipelines(cfg.Agent.Sources))
	if len(pl.get()) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}

	tracker := dedup.New(cfg.Agent.ResendInterval)

	// Sources and log level reload in place. The server connection settings
	// are fixed for the life of the process.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(parseLevel(updated.Agent.LogLevel))
			pl.set(buildPipelines(updated.Agent.Sources))

			keep := make(map[string]bool, len(updated.Agent.Sources))
			for _, src := range updated.Agent.Sources {
				keep[src.ID] = true
			}
			tracker.Forget(keep)

			if updated.Agent.ServerEndpoint != cfg.Agent.ServerEndpoint {
				slog.Warn("server_endpoint changed, restart the agent to apply",
					"current", cfg.Agent.ServerEndpoint, "configured", updated.Agent.ServerEndpoint)
			}
			slog.Info("config hot-reloaded", "sources", len(updated.Agent.Sources))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, p := range pl.get() {
					samples, err := p.s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "source", p.src.ID, "err", err)
						continue
					}
					shipped := 0
					for _, smp := range samples {
						if !tracker.Fresh(smp, now) {
							continue
						}
						ship.Ship(smp)
						shipped++
					}
					slog.Debug("scrape complete",
						"source", p.src.ID,
						"samples", len(samples),
						"shipped", shipped,
						"buffered", ship.Len(),
					)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("trailwatch-agent shutting down")
}
