package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/trailwatch/trailwatch/pkg/wire"
	"github.com/trailwatch/trailwatch/server/internal/admission"
	"github.com/trailwatch/trailwatch/server/internal/alerts"
	"github.com/trailwatch/trailwatch/server/internal/api"
	"github.com/trailwatch/trailwatch/server/internal/config"
	"github.com/trailwatch/trailwatch/server/internal/ingest"
	"github.com/trailwatch/trailwatch/server/internal/metrics"
	"github.com/trailwatch/trailwatch/server/internal/mqttbridge"
	"github.com/trailwatch/trailwatch/server/internal/query"
	"github.com/trailwatch/trailwatch/server/internal/ratelimit"
	"github.com/trailwatch/trailwatch/server/internal/receiver"
	"github.com/trailwatch/trailwatch/server/internal/store"
	"github.com/trailwatch/trailwatch/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload admission policy and log level when the config file changes")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("trailwatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "config", *configPath)
		cfg = config.Default()
	case err != nil:
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Server.LogLevel))
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"grpc_port", sc.GRPCPort,
		"storage", sc.Storage.Backend,
		"rate_limit", sc.RateLimit.Algorithm,
		"mqtt", sc.MQTT.Enabled(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec := metrics.New()

	// Reading store, bounded by a per-call timeout and instrumented.
	raw, err := store.Open(ctx, store.Options{
		Backend: sc.Storage.Backend,
		Path:    sc.Storage.Path,
		DSN:     sc.Storage.DSN(),
	})
	if err != nil {
		slog.Error("failed to open store", "backend", sc.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer raw.Close()
	st := store.Instrument(store.WithTimeout(raw, sc.Storage.Timeout), rec)

	engine := query.New(st, query.Options{
		LatestFetch:      sc.Query.LatestFetch,
		OfflineThreshold: sc.Query.OfflineThreshold,
		Bands:            sc.Query.Bands,
	})

	filter := admission.New(admissionPolicy(sc))

	limiter, err := ratelimit.New(ratelimit.Config{
		Algorithm:  sc.RateLimit.Algorithm,
		Requests:   sc.RateLimit.Requests,
		Window:     sc.RateLimit.Window,
		MaxClients: sc.RateLimit.MaxClients,
	})
	if err != nil {
		slog.Error("failed to build rate limiter", "err", err)
		os.Exit(1)
	}
	go ratelimit.Run(ctx, limiter, sc.RateLimit.SweepInterval)

	// Alerts re-evaluate a trail on every ingest and sweep all trails
	// periodically so offline rules fire for silent sensors.
	alertEngine := alerts.New(sc.Alerts, engine)
	go alertEngine.Run(ctx)

	hub := ws.New(engine, sc.Stream.Heartbeat, func(origin string) bool {
		return filter.Admit(origin, "", false).Allowed
	})
	go hub.Run(ctx)

	svc := ingest.New(st, hub, alertEngine).WithCounter(rec)

	rec.GaugeFunc("ws_clients", "Connected WebSocket clients.", func() float64 { return float64(hub.Count()) })
	rec.GaugeFunc("ratelimit_clients", "Client keys tracked by the rate limiter.", func() float64 { return float64(limiter.Len()) })
	rec.GaugeFunc("alerts_firing", "Alerts currently firing.", func() float64 { return float64(alertEngine.FiringCount()) })

	// gRPC receiver: API key first, then per-client quota.
	var grpcSrv *grpc.Server
	if sc.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(grpc.ChainUnaryInterceptor(
			filter.UnaryInterceptor(sc.Auth.EffectiveHeader()),
			ratelimit.UnaryInterceptor(limiter),
		))
		wire.RegisterTelemetryServiceServer(grpcSrv, receiver.New(svc))

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	if sc.MQTT.Enabled() {
		bridge, err := mqttbridge.New(svc, mqttbridge.Options{
			Broker:           sc.MQTT.Broker,
			ClientID:         sc.MQTT.ClientID,
			Topic:            sc.MQTT.Topic,
			Username:         sc.MQTT.Username,
			Password:         sc.MQTT.Password(),
			PerTrailInterval: sc.MQTT.PerTrailInterval,
			Burst:            sc.MQTT.Burst,
			Drops:            rec,
		})
		if err != nil {
			slog.Error("invalid mqtt config", "err", err)
			os.Exit(1)
		}
		go func() {
			if err := bridge.Run(ctx); err != nil {
				slog.Error("mqtt bridge stopped", "err", err)
			}
		}()
	}

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				filter.SetPolicy(admissionPolicy(c.Server))
				level.Set(parseLevel(c.Server.LogLevel))
				slog.Info("admission policy reloaded",
					"require_origin", c.Server.Admission.RequireOrigin,
					"allowed_origins", len(c.Server.Admission.AllowedOrigins),
				)
			})
			if err != nil {
				slog.Warn("config watch disabled", "err", err)
			}
		}()
	}

	// Combined HTTP server: REST API, WebSocket stream and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Options{
		Query:         engine,
		Ingest:        svc,
		Admission:     filter,
		Limiter:       limiter,
		Alerts:        alertEngine,
		Metrics:       rec,
		KeyHeader:     sc.Auth.EffectiveHeader(),
		CacheMaxAge:   sc.Cache.MaxAge,
		HistoryWindow: sc.Query.HistoryWindow,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", rec.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("trailwatch-server shutting down")
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func admissionPolicy(sc config.ServerConfig) admission.Policy {
	return admission.Policy{
		RequireOrigin:   sc.Admission.RequireOrigin,
		AllowedOrigins:  sc.Admission.AllowedOrigins,
		CanonicalOrigin: sc.Admission.CanonicalOrigin,
		APIKey:          sc.Auth.Key(),
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
