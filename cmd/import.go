package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/campusnotice/notice-delivery-service/config"
	storedi "github.com/campusnotice/notice-delivery-service/internal/adapter/store/di"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load recipients from a JSON array into the directory",
		ArgsUsage: "<recipients.json> [-- --store.driver=...]",
		Flags:     []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("recipients file is required", 2)
			}
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Tail())
			if err != nil {
				return err
			}

			recipients, err := readRecipients(c.Args().First())
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
			backend, err := storedi.Open(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			for i, r := range recipients {
				if err := backend.Directory.Save(c.Context, r); err != nil {
					return fmt.Errorf("recipient #%d (%s): %w", i, r.ID, err)
				}
			}
			logger.Info("RECIPIENTS_IMPORTED", "count", len(recipients), "driver", cfg.Store.Driver)
			return nil
		},
	}
}

func readRecipients(path string) ([]model.Recipient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recipients []model.Recipient
	if err := json.Unmarshal(data, &recipients); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, r := range recipients {
		if r.ID == "" || r.Primary == "" || r.Secondary == "" {
			return nil, fmt.Errorf("recipient #%d: id, primary and secondary are required", i)
		}
	}
	return recipients, nil
}
