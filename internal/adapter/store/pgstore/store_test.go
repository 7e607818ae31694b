package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func TestMessageRow_RoundTripKeepsTargetSelection(t *testing.T) {
	req := require.New(t)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	target := model.Audience{Primaries: []string{"CSE", "ECE"}, Secondaries: []string{"2023-2027", "2024-2028"}, Sub: "A"}
	msg := model.NewMessage(model.SenderAdmin, "Dean", "Labs closed", "general", target,
		[]model.Recipient{{ID: "s1"}, {ID: "s2"}}, at)
	msg.Receipts[1].MarkDelivered(at)

	row := toMessageRow(msg)
	req.Len(row.Targets, 4, "one target row per group pair")
	req.Len(row.Receipts, 2)

	back := row.toModel()
	req.Equal(msg.ID, back.ID)
	req.Equal(target, back.Target)
	req.Equal(1, back.DeliveredCount())
	req.True(back.CreatedAt.Equal(at))
}

func TestRecipientRow_RoundTrip(t *testing.T) {
	r := model.Recipient{ID: "s1", Name: "Asha", Primary: "CSE", Secondary: "2023-2027", PushHandles: []string{"a", "b"}}
	require.Equal(t, r, toRecipientRow(r).toModel())
}

// The remaining tests need a reachable database, e.g.
// NOTICE_TEST_POSTGRES_DSN="host=localhost user=postgres dbname=notice_test sslmode=disable".
func openTestDB(t *testing.T) (*Directory, *MessageStore) {
	t.Helper()
	dsn := os.Getenv("NOTICE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NOTICE_TEST_POSTGRES_DSN is not set")
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(Options{DSN: dsn}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	for _, table := range []string{"receipts", "message_targets", "messages", "push_handles", "recipients"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return NewDirectory(db, log), NewMessageStore(db, log)
}

func TestPostgres_DirectoryAndLedger(t *testing.T) {
	dir, msgs := openTestDB(t)
	req := require.New(t)
	ctx := context.Background()

	req.NoError(dir.Save(ctx, model.Recipient{ID: "s1", Primary: "cse", Secondary: "2023-2027", Sub: "a"}))
	req.NoError(dir.Save(ctx, model.Recipient{ID: "s2", Primary: "ECE", Secondary: "2023-2027"}))

	added, err := dir.AppendPushHandle(ctx, "s1", "tok")
	req.NoError(err)
	req.True(added)
	added, err = dir.AppendPushHandle(ctx, "s1", "tok")
	req.NoError(err)
	req.False(added)

	got, err := dir.FindByGroups(ctx, []string{"CSE"}, []string{"2023-2027"}, "A")
	req.NoError(err)
	req.Len(got, 1)
	req.Equal([]string{"tok"}, got[0].PushHandles)

	req.ErrorIs(dir.UpdateOnlineStatus(ctx, "ghost", true, time.Now()), model.ErrRecipientNotFound)

	target := model.Audience{Primaries: []string{"CSE"}, Secondaries: []string{"2023-2027"}}
	msg := model.NewMessage(model.SenderAdmin, "Dean", "hello", "", target, got, time.Now())
	req.NoError(msgs.Create(ctx, msg))

	first, err := msgs.MarkReceiptDelivered(ctx, msg.ID, "s1", time.Now())
	req.NoError(err)
	req.True(first)
	first, err = msgs.MarkReceiptDelivered(ctx, msg.ID, "s1", time.Now())
	req.NoError(err)
	req.False(first)
	_, err = msgs.MarkReceiptDelivered(ctx, msg.ID, "s2", time.Now())
	req.ErrorIs(err, model.ErrReceiptNotFound)

	visible, err := msgs.ListForAudience(ctx, "CSE", "2023-2027", "A", 10)
	req.NoError(err)
	req.Len(visible, 1)

	hidden, err := msgs.ListForAudience(ctx, "ECE", "2023-2027", "", 10)
	req.NoError(err)
	req.Empty(hidden)
}
