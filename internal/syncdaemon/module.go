package syncdaemon

import (
	"context"
	"log/slog"

	"github.com/pedohorse/lance/internal/config"
	"go.uber.org/fx"
)

// optionsFromConfig adapts the node-wide *config.Config into the Options
// this package's Handler constructor expects.
func optionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConfigRoot:    cfg.ConfigRoot,
		DataRoot:      cfg.DataRoot,
		BinaryPath:    cfg.BinaryPath,
		GUIAddress:    cfg.GUIAddress,
		ListenAddress: cfg.ListenAddress,
		IsServer:      cfg.IsServer,
		MaxRetention:  cfg.MaxDeviceRetention,
	}
}

// Module provides the sync-daemon handler as an fx singleton and owns its
// process/worker lifecycle (§4.3's handler owns a child process and a
// worker loop that must start before the project manager and GUI bridge
// come up, and stop cleanly on shutdown).
var Module = fx.Module("syncdaemon",
	fx.Provide(
		optionsFromConfig,
		New,
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Handler, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return h.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				h.Stop()
				return nil
			},
		})
	}),
)
