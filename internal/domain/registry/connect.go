package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (PRESENCE/ROUTER/OBSERVER)
// This allows mocking and decoupling from the concrete implementation
type Connector interface {
	GetID() uuid.UUID
	CreatedAt() time.Time
	Send(ev event.Eventer, timeout time.Duration) error // Thread-safe send with backpressure handling
	// Deliver enqueues ev like Send and then waits until the transport reports
	// the frame written, the connection closes or ctx ends.
	Deliver(ctx context.Context, ev event.Eventer, timeout time.Duration) error
	// Written is reported by the transport after each write attempt.
	Written(ev event.Eventer, err error)
	Recv() <-chan event.Eventer
	Done() <-chan struct{}
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan event.Eventer
	closeOnce sync.Once

	// [WRITE_CONFIRMATION] Deliver waiters keyed by event id.
	pendingMu sync.Mutex
	pending   map[string]chan error

	// [ATOMIC_FIELD]
	droppedCount uint64
}

// NewConnector creates the outbound side of one live connection. The buffered
// queue is drained by exactly one writer, which keeps per-connection FIFO.
func NewConnector(ctx context.Context, bufferSize int, meta ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:        uuid.New(),
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan event.Eventer, bufferSize),
		pending:   make(map[string]chan error),
	}
}

func (c *connect) GetID() uuid.UUID           { return c.id }
func (c *connect) CreatedAt() time.Time       { return c.createdAt }
func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }
func (c *connect) Done() <-chan struct{}      { return c.ctx.Done() }

// Send enqueues an event for the connection writer.
// It fails with ErrConnectionClosed once the connection is gone and with
// ErrSendTimeout when the queue stays full for the whole window.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) error {
	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	select {
	case <-c.ctx.Done():
		return model.ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return model.ErrConnectionClosed

	// 2. [PRIMARY_DELIVERY] Wait up to 'timeout' for space in the queue.
	case c.sendCh <- ev:
		return nil

	// 3. [BACKPRESSURE_THRESHOLD] A persistently slow consumer.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

func (c *connect) Deliver(ctx context.Context, ev event.Eventer, timeout time.Duration) error {
	written := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[ev.GetID()] = written
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, ev.GetID())
		c.pendingMu.Unlock()
	}()

	if err := c.Send(ev, timeout); err != nil {
		return err
	}

	select {
	case err := <-written:
		return err
	case <-c.ctx.Done():
		// A write reported right before the close still counts.
		select {
		case err := <-written:
			return err
		default:
			return model.ErrConnectionClosed
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", model.ErrWriteUnconfirmed, ctx.Err())
	}
}

func (c *connect) Written(ev event.Eventer, err error) {
	c.pendingMu.Lock()
	written, ok := c.pending[ev.GetID()]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case written <- err:
	default:
	}
}

// handleBackpressure sheds low-priority events so notices still get through.
func (c *connect) handleBackpressure(ev event.Eventer) error {
	if ev.GetPriority() <= event.PriorityLow {
		atomic.AddUint64(&c.droppedCount, 1)
		return model.ErrSendTimeout
	}

	// Evict one queued event if it is less important than the incoming one.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.GetPriority() < ev.GetPriority() {
			select {
			case c.sendCh <- ev:
				atomic.AddUint64(&c.droppedCount, 1)
				c.Written(oldEv, model.ErrSendTimeout)
				return nil
			default:
				c.Written(oldEv, model.ErrSendTimeout)
			}
		} else {
			// Put it back (best effort)
			select {
			case c.sendCh <- oldEv:
			default:
				atomic.AddUint64(&c.droppedCount, 1)
				c.Written(oldEv, model.ErrSendTimeout)
			}
		}
	default:
	}

	atomic.AddUint64(&c.droppedCount, 1)
	return model.ErrSendTimeout
}

// Dropped reports how many events were shed for this connection.
func (c *connect) Dropped() uint64 { return atomic.LoadUint64(&c.droppedCount) }

// Close terminates the session. Senders observe it through Done.
func (c *connect) Close() {
	// [IDEMPOTENCY_SHIELD]
	// The queue channel is never closed: concurrent senders would panic on it.
	// Cancelling the context is what tells both senders and the writer to stop.
	c.closeOnce.Do(func() {
		c.cancelFn()
	})
}
