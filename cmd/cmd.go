package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

const (
	ServiceName      = "notice-delivery-service"
	ServiceNamespace = "campus"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	model.ServerVersion = version

	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Delivers campus notices to students over live connections and push",
		Version: version + " (" + branch + "@" + commit + ", " + commitDate + buildTimestamp + ")",
		Commands: []*cli.Command{
			serverCmd(),
			watchCmd(),
			importCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFileFlag = &cli.StringFlag{
	Name:    "config_file",
	Aliases: []string{"c"},
	Usage:   "Path to the configuration file",
	EnvVars: []string{"NOTICE_CONFIG_FILE"},
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the delivery server",
		ArgsUsage: "[-- --http.addr=... --store.driver=...]",
		Flags:     []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
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

			slog.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
