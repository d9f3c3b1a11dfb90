package config

import (
	"context"
	"log/slog"

	"github.com/trailwatch/trailwatch/pkg/filewatch"
)

// Watch monitors path and calls onChange with the newly loaded Config after
// each save, including saves that rename a temp file over path. Runs until
// ctx is cancelled.
//
// A reload that fails to parse or validate is logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, func(abs string) {
		cfg, err := Load(abs)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", abs, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", abs, "sources", len(cfg.Agent.Sources))
		onChange(cfg)
	})
}
