package storedi

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/config"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func TestOpen_InMemoryBadger(t *testing.T) {
	req := require.New(t)
	b, err := Open(config.StoreConfig{Driver: "badger", InMemory: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req.NoError(err)
	defer func() { req.NoError(b.Close()) }()

	ctx := context.Background()
	req.NoError(b.Directory.Save(ctx, model.Recipient{ID: "s1", Primary: "CSE", Secondary: "2023-2027", LastSeen: time.Now()}))
	got, err := b.Directory.FindByIdentity(ctx, "s1")
	req.NoError(err)
	req.Equal("CSE", got.Primary)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "sqlite"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "unknown store driver")
}
