package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
)

func newMessage(primaries, secondaries []string, audience []model.Recipient) *model.Message {
	target := model.Audience{Primaries: primaries, Secondaries: secondaries}.Normalize()
	return model.NewMessage(model.SenderAdmin, "Dean", "Exam schedule updated", "", target, audience, time.Now())
}

func TestRouter_TwoOnlineOneOffline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	req := require.New(t)

	// Given: three recipients of one group, two of them connected
	hub := registry.NewHub(registry.WithLogger(quietLog))
	c1, c2 := newLiveConn(t), newLiveConn(t)
	defer c1.stop()
	defer c2.stop()
	hub.Register("s1", c1)
	hub.Register("s2", c2)
	fp := newFakePush()

	audience := []model.Recipient{
		student("s1", "CSE", "2023-2027"),
		student("s2", "CSE", "2023-2027"),
		student("s3", "CSE", "2023-2027"),
	}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, audience)

	// When
	out := NewRouter(hub, fp, routerConfig(), quietLog).Route(context.Background(), msg, audience)

	// Then
	req.Equal(3, out.Total)
	req.Equal(2, out.LiveDelivered)
	req.Equal(0, out.LiveFailed)
	req.Equal(1, out.Offline)
	req.Equal(1, out.PushTopics)
	req.Equal(0, out.PushFailed)
	req.ElementsMatch([]string{"s1", "s2"}, out.DeliveredLive)
	req.Equal([]string{"branch_cse_batch_2023-2027"}, fp.sentTopics())

	for _, c := range []*liveConn{c1, c2} {
		frames := c.written()
		req.Len(frames, 1, "live payload was not written")
		req.Equal(event.NoticeCreated, frames[0].GetKind())
		req.Equal(msg.ID, frames[0].GetID())
	}
}

func TestRouter_ConnectionDroppedMidSend(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	req := require.New(t)

	// Given: a session still in the table whose transport is already gone
	hub := registry.NewHub(registry.WithLogger(quietLog))
	dead := newConn(t)
	hub.Register("s1", dead)
	dead.Close()
	fp := newFakePush()

	audience := []model.Recipient{student("s1", "CSE", "2023-2027")}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, audience)

	// When
	out := NewRouter(hub, fp, routerConfig(), quietLog).Route(context.Background(), msg, audience)

	// Then: the live path failed, the push path still ran
	req.Equal(0, out.LiveDelivered)
	req.Equal(1, out.LiveFailed)
	req.Equal(1, out.Offline, "a failed send counts the recipient as absent")
	req.Empty(out.DeliveredLive)
	req.Equal(1, out.PushTopics)
	req.Equal([]string{"branch_cse_batch_2023-2027"}, fp.sentTopics())
}

func TestRouter_DropBeforeWriteIsNotDelivered(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	req := require.New(t)

	// Given: a present recipient whose transport drops before writing anything
	hub := registry.NewHub(registry.WithLogger(quietLog))
	conn := newConn(t)
	hub.Register("s1", conn)
	time.AfterFunc(30*time.Millisecond, conn.Close)

	audience := []model.Recipient{student("s1", "CSE", "2023-2027")}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, audience)

	// When
	out := NewRouter(hub, newFakePush(), routerConfig(), quietLog).Route(context.Background(), msg, audience)

	// Then: the queued frame never went out, so the live path failed
	req.Equal(0, out.LiveDelivered)
	req.Equal(1, out.LiveFailed)
	req.Empty(out.DeliveredLive)
	req.Len(conn.Recv(), 1, "the notice was left in the queue")
}

func TestRouter_UnconfirmedWriteIsNotDelivered(t *testing.T) {
	req := require.New(t)

	// Given: a connection that stays open but never writes
	hub := registry.NewHub(registry.WithLogger(quietLog))
	hub.Register("s1", newConn(t))
	cfg := routerConfig()
	cfg.ConfirmTimeout = 50 * time.Millisecond

	audience := []model.Recipient{student("s1", "CSE", "2023-2027")}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, audience)

	out := NewRouter(hub, newFakePush(), cfg, quietLog).Route(context.Background(), msg, audience)

	req.Equal(0, out.LiveDelivered)
	req.Equal(1, out.LiveFailed)
}

func TestRouter_OneTopicFailsOthersSucceed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	req := require.New(t)

	// Given: three group topics, one of which hangs past the call timeout
	hub := registry.NewHub(registry.WithLogger(quietLog))
	conn := newLiveConn(t)
	defer conn.stop()
	hub.Register("s1", conn)
	fp := newFakePush()
	fp.stall["branch_ece_batch_2023-2027"] = true

	audience := []model.Recipient{
		student("s1", "CSE", "2023-2027"),
		student("s2", "ECE", "2023-2027"),
		student("s3", "MECH", "2023-2027"),
	}
	msg := newMessage([]string{"CSE", "ECE", "MECH"}, []string{"2023-2027"}, audience)

	// When
	start := time.Now()
	out := NewRouter(hub, fp, routerConfig(), quietLog).Route(context.Background(), msg, audience)

	// Then: two topics succeed, one fails, live delivery is unaffected
	req.Less(time.Since(start), time.Second)
	req.Equal(3, out.PushTopics)
	req.Equal(1, out.PushFailed)
	req.Equal(2, out.PushSucceeded())
	req.Equal(1, out.LiveDelivered)

	failed := 0
	for _, tr := range out.Topics {
		if !tr.Success {
			failed++
			req.Equal("branch_ece_batch_2023-2027", tr.Topic)
			req.NotEmpty(tr.Error)
		}
	}
	req.Equal(1, failed)
}

func TestRouter_ProviderDownKeepsLivePath(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	req := require.New(t)

	hub := registry.NewHub(registry.WithLogger(quietLog))
	conn := newLiveConn(t)
	defer conn.stop()
	hub.Register("s1", conn)
	fp := newFakePush()
	fp.down = true

	audience := []model.Recipient{student("s1", "CSE", "2023-2027")}
	msg := newMessage([]string{"CSE"}, []string{"2023-2027", "2024-2028"}, audience)

	out := NewRouter(hub, fp, routerConfig(), quietLog).Route(context.Background(), msg, audience)

	req.Equal(1, out.LiveDelivered)
	req.Equal(2, out.PushTopics)
	req.Equal(2, out.PushFailed)
}

func TestRouter_EmptyAudience(t *testing.T) {
	fp := newFakePush()
	hub := registry.NewHub(registry.WithLogger(quietLog))
	msg := newMessage([]string{"CSE"}, []string{"2023-2027"}, nil)

	out := NewRouter(hub, fp, routerConfig(), quietLog).Route(context.Background(), msg, nil)

	require.Zero(t, out.Total)
	require.Zero(t, out.PushTopics)
	require.Empty(t, fp.sentTopics())
}
