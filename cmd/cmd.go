package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pedohorse/lance/internal/config"
)

const (
	ServiceName      = "lance"
	ServiceNamespace = "lance"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run is Lance's CLI entry point, a direct generalization of the
// teacher's cmd.Run/serverCmd: load configuration, build the fx app,
// start it, and wait on SIGINT/SIGTERM.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Multi-host project/shot collaboration backbone",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run a Lance node (server or client)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the node configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("lance: shutting down...")
			return app.Stop(context.Background())
		},
	}
}
