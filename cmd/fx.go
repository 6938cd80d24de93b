package cmd

import (
	"github.com/pedohorse/lance/internal/config"
	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/guibridge"
	"github.com/pedohorse/lance/internal/lanceserver"
	"github.com/pedohorse/lance/internal/syncdaemon"
	"github.com/pedohorse/lance/internal/tracing"
	"go.uber.org/fx"
)

// NewApp wires every Lance module into one fx application, the same
// func()-provider-plus-per-package-Module layering the teacher's
// cmd/fx.go uses for postgres.Module / service.Module / grpcsrv.Module.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		tracing.Module,
		eventbus.Module,
		syncdaemon.Module,
		lanceserver.Module,
		guibridge.Module,
	)
}
