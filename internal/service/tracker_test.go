package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func TestTracker_MarkDeliveredIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	_, msgs := openStores(t)
	disp := &fakeDispatcher{}

	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, []model.Recipient{student("s1", "CSE", "2023-2027")})
	req.NoError(msgs.Create(ctx, msg))

	tr, err := NewTracker(msgs, disp, 128, quietLog)
	req.NoError(err)
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return first }

	// When: the recipient confirms, then the live path reports late
	ok, err := tr.MarkDelivered(ctx, msg.ID, "s1", model.AckRecipient)
	req.NoError(err)
	req.True(ok)

	tr.now = func() time.Time { return first.Add(time.Hour) }
	ok, err = tr.MarkDelivered(ctx, msg.ID, "s1", model.AckLive)
	req.NoError(err)
	req.False(ok)

	// Then: one transition, first timestamp kept, one bus event
	stored, err := msgs.Get(ctx, msg.ID)
	req.NoError(err)
	req.Len(stored.Receipts, 1)
	req.True(stored.Receipts[0].Delivered)
	req.True(stored.Receipts[0].DeliveredAt.Equal(first))

	events := disp.published()
	req.Len(events, 1)
	req.Equal(model.RoutingKeyReceiptDelivered, events[0].GetRoutingKey())
}

func TestTracker_RepeatAfterCacheEvictionStillNoOp(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	_, msgs := openStores(t)

	audience := []model.Recipient{student("s1", "CSE", "2023-2027"), student("s2", "CSE", "2023-2027")}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, audience)
	req.NoError(msgs.Create(ctx, msg))

	// A cache of one forgets s1 once s2 is confirmed.
	tr, err := NewTracker(msgs, &fakeDispatcher{}, 1, quietLog)
	req.NoError(err)

	for _, id := range []string{"s1", "s2"} {
		ok, err := tr.MarkDelivered(ctx, msg.ID, id, model.AckRecipient)
		req.NoError(err)
		req.True(ok)
	}

	ok, err := tr.MarkDelivered(ctx, msg.ID, "s1", model.AckRecipient)
	req.NoError(err)
	req.False(ok, "the store still answers already-delivered")
}

func TestTracker_UnknownReceipt(t *testing.T) {
	ctx := context.Background()
	_, msgs := openStores(t)
	tr, err := NewTracker(msgs, &fakeDispatcher{}, 16, quietLog)
	require.NoError(t, err)

	_, err = tr.MarkDelivered(ctx, "no-such-message", "s1", model.AckRecipient)
	require.ErrorIs(t, err, model.ErrReceiptNotFound)
}

func TestTracker_ConcurrentSignalsTransitionOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	_, msgs := openStores(t)
	disp := &fakeDispatcher{}

	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, []model.Recipient{student("s1", "CSE", "2023-2027")})
	req.NoError(msgs.Create(ctx, msg))
	tr, err := NewTracker(msgs, disp, 128, quietLog)
	req.NoError(err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			source := model.AckLive
			if i%2 == 0 {
				source = model.AckRecipient
			}
			if ok, err := tr.MarkDelivered(ctx, msg.ID, "s1", source); err == nil && ok {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Equal(1, firsts)
	req.Len(disp.published(), 1)
}
