package amqp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/service"
	"github.com/campusnotice/notice-delivery-service/internal/service/dto"
)

type fakeNotices struct {
	service.Noticer

	mu        sync.Mutex
	submitted []service.SubmitRequest
	traceIDs  []string
	acks      []string
	ackCalls  int
}

func (f *fakeNotices) Submit(ctx context.Context, req service.SubmitRequest) (model.NoticeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	traceID, _ := ctx.Value(pubsub.TraceIDKey).(string)
	f.traceIDs = append(f.traceIDs, traceID)
	return model.NoticeOutcome{MessageID: "m-1"}, nil
}

func (f *fakeNotices) Acknowledge(_ context.Context, messageID, recipientID string, source model.AckSource) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackCalls++
	if messageID == "missing" {
		return false, model.ErrReceiptNotFound
	}
	f.acks = append(f.acks, messageID+"/"+recipientID+"/"+string(source))
	return true, nil
}

func (f *fakeNotices) snapshot() (submitted []service.SubmitRequest, traceIDs, acks []string, ackCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.SubmitRequest(nil), f.submitted...), append([]string(nil), f.traceIDs...),
		append([]string(nil), f.acks...), f.ackCalls
}

func startPipeline(t *testing.T) (*fakeNotices, *pubsub.Bus) {
	t.Helper()
	req := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := pubsub.NewInProcessBus(watermill.NopLogger{})
	notices := &fakeNotices{}
	h := NewNoticeHandler(notices, pubsub.NewEventDispatcher(bus, logger), RouterConfig{QueueSuffix: "test"}, logger)

	router, err := NewWatermillRouter(watermill.NopLogger{})
	req.NoError(err)
	req.NoError(h.RegisterHandlers(router, bus))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Run(ctx)
	}()
	<-router.Running()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = bus.Close()
	})
	return notices, bus
}

func publish(t *testing.T, bus *pubsub.Bus, topic, payload string, meta map[string]string) {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	for k, v := range meta {
		msg.Metadata.Set(k, v)
	}
	require.NoError(t, bus.Publisher().Publish(topic, msg))
}

func TestPipeline_SubmitFromBus(t *testing.T) {
	req := require.New(t)
	notices, bus := startPipeline(t)

	// Given: a submission carrying a trace id
	publish(t, bus, TopicNoticeSubmit,
		`{"sender_name":"Registrar","body":"Fees due","target":{"primary_groups":["CSE"],"secondary_groups":["2023-2027"]}}`,
		map[string]string{"trace_id": "trace-42"})

	// Then: it reaches the notice service as an admin send with the trace id in context
	req.Eventually(func() bool {
		submitted, _, _, _ := notices.snapshot()
		return len(submitted) == 1
	}, 3*time.Second, 10*time.Millisecond)

	submitted, traceIDs, _, _ := notices.snapshot()
	req.Equal(model.SenderAdmin, submitted[0].SenderRole)
	req.Equal([]string{"CSE"}, submitted[0].PrimaryGroups)
	req.Equal("trace-42", traceIDs[0])
}

func TestPipeline_ReceiptAcks(t *testing.T) {
	req := require.New(t)
	notices, bus := startPipeline(t)

	// A report for an unknown receipt is dropped without retrying
	publish(t, bus, TopicReceiptAck, `{"message_id":"missing","recipient_id":"s1"}`, nil)
	publish(t, bus, TopicReceiptAck, `{"message_id":"m-1","recipient_id":"s1"}`, nil)

	req.Eventually(func() bool {
		_, _, acks, _ := notices.snapshot()
		return len(acks) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, _, acks, calls := notices.snapshot()
	req.Equal("m-1/s1/push", acks[0])
	req.Equal(2, calls)
}

func TestBind_DecodeFailureIsAcked(t *testing.T) {
	req := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &NoticeHandler{logger: logger}

	called := false
	fn := Bind(h, func(context.Context, *dto.ReceiptAckV1) error {
		called = true
		return nil
	})

	req.NoError(fn(message.NewMessage("1", []byte("{broken"))))
	req.False(called)
}

func TestBind_TransientErrorIsReturned(t *testing.T) {
	req := require.New(t)
	h := &NoticeHandler{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	boom := errors.New("store offline")

	fn := Bind(h, func(context.Context, *dto.ReceiptAckV1) error { return boom })
	req.ErrorIs(fn(message.NewMessage("1", []byte(`{}`))), boom)

	fn = Bind(h, func(context.Context, *dto.ReceiptAckV1) error { return model.ErrInvalidRequest })
	req.NoError(fn(message.NewMessage("2", []byte(`{}`))))

	fn = Bind(h, func(context.Context, *dto.ReceiptAckV1) error { panic("boom") })
	req.Error(fn(message.NewMessage("3", []byte(`{}`))))
}
