package cmd

import (
	"log/slog"
	"os"
)

// ProvideLogger constructs the process-wide structured logger every
// component accepts as a constructor argument, matching the teacher's
// cmd/fx.go ProvideLogger singleton.
func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
