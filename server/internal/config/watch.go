package config

import (
	"context"
	"log/slog"

	"github.com/trailwatch/trailwatch/pkg/filewatch"
)

// Watch calls onChange with the newly loaded Config after each save of
// path, including atomic saves that rename a new file over it. It runs
// until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains active; onChange is not called.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, func(abs string) {
		cfg, err := Load(abs)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config",
				"path", abs, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", abs,
			"allowed_origins", len(cfg.Server.Admission.AllowedOrigins))
		onChange(cfg)
	})
}
