package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

func TestConnector_Send_Is_FIFO(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), 8, ConnectMetadata{})
	defer conn.Close()

	var sent []string
	for range 3 {
		ev := event.NewSystemEvent(event.Connected, event.PriorityNormal, nil)
		sent = append(sent, ev.GetID())
		req.NoError(conn.Send(ev, time.Second))
	}

	for _, id := range sent {
		got := <-conn.Recv()
		req.Equal(id, got.GetID())
	}
}

func TestConnector_Send_After_Close_Fails(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), 1, ConnectMetadata{})

	conn.Close()
	conn.Close() // idempotent

	err := conn.Send(event.NewSystemEvent(event.Connected, event.PriorityHigh, nil), time.Second)
	req.ErrorIs(err, model.ErrConnectionClosed)
}

func TestConnector_Parent_Context_Cancels_Connection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(ctx, 1, ConnectMetadata{})

	cancel()

	err := conn.Send(event.NewSystemEvent(event.Connected, event.PriorityHigh, nil), time.Second)
	require.ErrorIs(t, err, model.ErrConnectionClosed)
}

func TestConnector_Backpressure(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), 1, ConnectMetadata{})
	defer conn.Close()

	low := event.NewSystemEvent(event.PresenceUpdated, event.PriorityLow, nil)
	req.NoError(conn.Send(low, 10*time.Millisecond))

	// A second low priority event is shed
	err := conn.Send(event.NewSystemEvent(event.PresenceUpdated, event.PriorityLow, nil), 10*time.Millisecond)
	req.ErrorIs(err, model.ErrSendTimeout)

	// A high priority event evicts the queued low priority one
	high := event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil)
	req.NoError(conn.Send(high, 10*time.Millisecond))
	req.Equal(high.GetID(), (<-conn.Recv()).GetID())
}

// writer drains conn like a transport and reports every write with result.
func writer(conn Connector, result error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-conn.Done():
				return
			case ev := <-conn.Recv():
				conn.Written(ev, result)
			}
		}
	}()
	return done
}

func TestConnector_Deliver_Waits_For_Write(t *testing.T) {
	defer goleak.VerifyNone(t)
	req := require.New(t)
	conn := NewConnector(context.Background(), 4, ConnectMetadata{})
	done := writer(conn, nil)

	err := conn.Deliver(context.Background(), event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil), time.Second)
	req.NoError(err)

	conn.Close()
	<-done
}

func TestConnector_Deliver_Reports_Write_Error(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := NewConnector(context.Background(), 4, ConnectMetadata{})
	broken := errors.New("broken pipe")
	done := writer(conn, broken)

	err := conn.Deliver(context.Background(), event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil), time.Second)
	require.ErrorIs(t, err, broken)

	conn.Close()
	<-done
}

func TestConnector_Deliver_Fails_When_Closed_Before_Write(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), 4, ConnectMetadata{})

	// Given: nobody drains the queue and the connection drops shortly after
	time.AfterFunc(20*time.Millisecond, conn.Close)

	// When
	start := time.Now()
	err := conn.Deliver(context.Background(), event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil), time.Second)

	// Then: the frame is still queued and the send counts as failed
	req.ErrorIs(err, model.ErrConnectionClosed)
	req.Less(time.Since(start), 500*time.Millisecond)
	req.Len(conn.Recv(), 1)
}

func TestConnector_Deliver_Unconfirmed_Deadline(t *testing.T) {
	conn := NewConnector(context.Background(), 4, ConnectMetadata{})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := conn.Deliver(ctx, event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil), time.Second)
	require.ErrorIs(t, err, model.ErrWriteUnconfirmed)
}

func TestConnector_Evicted_Delivery_Fails(t *testing.T) {
	req := require.New(t)
	conn := NewConnector(context.Background(), 1, ConnectMetadata{})
	defer conn.Close()

	// Given: a queued normal priority delivery waiting for its write
	result := make(chan error, 1)
	go func() {
		result <- conn.Deliver(context.Background(), event.NewSystemEvent(event.Connected, event.PriorityNormal, nil), time.Second)
	}()
	req.Eventually(func() bool { return len(conn.Recv()) == 1 }, time.Second, 5*time.Millisecond)

	// When: a high priority event evicts it
	req.NoError(conn.Send(event.NewSystemEvent(event.NoticeCreated, event.PriorityHigh, nil), 10*time.Millisecond))

	// Then: the waiter learns it was shed
	select {
	case err := <-result:
		req.ErrorIs(err, model.ErrSendTimeout)
	case <-time.After(time.Second):
		t.Fatal("evicted delivery still waiting")
	}
}
