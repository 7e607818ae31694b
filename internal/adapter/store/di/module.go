package storedi

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store/badgerstore"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store/pgstore"
)

// Backend is the opened storage selected by configuration.
type Backend struct {
	Directory store.Directory
	Messages  store.MessageStore
	close     func() error
}

func (b *Backend) Close() error { return b.close() }

// Open selects the storage driver. Postgres schemas are migrated on open.
func Open(cfg config.StoreConfig, logger *slog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := pgstore.Open(pgstore.Options{
			DSN:     cfg.PostgresDSN,
			LogSQL:  cfg.LogSQL,
			MaxOpen: cfg.MaxOpen,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Directory: pgstore.NewDirectory(db, logger),
			Messages:  pgstore.NewMessageStore(db, logger),
			close:     func() error { return pgstore.Close(db) },
		}, nil

	case "badger", "":
		db, err := badgerstore.Open(badgerstore.Options{
			Path:     cfg.BadgerPath,
			InMemory: cfg.InMemory,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Directory: badgerstore.NewDirectory(db, logger),
			Messages:  badgerstore.NewMessageStore(db, logger),
			close:     db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

var Module = fx.Module(
	"store",

	// [CONSTRUCTOR] Opens the configured backend once and exposes both stores
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
			log := logger.With("component", "store", "driver", cfg.Store.Driver)
			b, err := Open(cfg.Store, log)
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
			log.Info("STORE_OPENED")
			return b, nil
		},
		func(b *Backend) store.Directory { return b.Directory },
		func(b *Backend) store.MessageStore { return b.Messages },
	),

	// [LIFECYCLE] Flushes and closes the backend on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, b *Backend) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return b.Close()
			},
		})
	}),
)
