package guibridge

import (
	"context"
	"log/slog"

	"github.com/pedohorse/lance/internal/config"
	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/lanceserver"
	"go.uber.org/fx"
)

func newServer(cfg *config.Config, lance *lanceserver.Server, tap *eventbus.ExternalTap, logger *slog.Logger) *Server {
	return New(cfg.BridgeAddress, lance, tap, logger)
}

// Module provides the GUI/detail-viewer bridge and wires its HTTP server's
// lifecycle to the fx app.
var Module = fx.Module("guibridge",
	fx.Provide(newServer),
	fx.Invoke(func(lc fx.Lifecycle, srv *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				srv.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
