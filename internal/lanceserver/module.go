package lanceserver

import (
	"context"
	"log/slog"

	"github.com/pedohorse/lance/internal/config"
	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/syncdaemon"
	"go.uber.org/fx"
)

func newServer(cfg *config.Config, bus *eventbus.Dispatcher, sth *syncdaemon.Handler, logger *slog.Logger) *Server {
	return New(bus, sth, cfg.DataRoot, logger)
}

// Module provides the server container and owns the event bus's one
// consumer goroutine: its OnStart hook attaches the external-tap processor
// so internal/guibridge can observe the bus and starts Server.Run, which
// attaches the server's own Project Manager Handler processor and then
// drives Dispatcher.Run until shutdown (spec.md §4.5, §4.2).
var Module = fx.Module("lanceserver",
	fx.Provide(newServer),
	fx.Invoke(func(lc fx.Lifecycle, bus *eventbus.Dispatcher, tap *eventbus.ExternalTap, srv *Server) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				bus.Attach(tap)
				go srv.Run(ctx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				bus.Stop()
				return nil
			},
		})
	}),
)
