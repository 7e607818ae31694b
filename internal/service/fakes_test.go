package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/pubsub"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store/badgerstore"
	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakePush records provider calls. Topics listed in fail return an error,
// topics listed in stall block until the call deadline.
type fakePush struct {
	mu         sync.Mutex
	sent       []string
	subscribed map[string][]string
	fail       map[string]bool
	stall      map[string]bool
	down       bool
}

func newFakePush() *fakePush {
	return &fakePush{
		subscribed: map[string][]string{},
		fail:       map[string]bool{},
		stall:      map[string]bool{},
	}
}

func (f *fakePush) Available() bool { return !f.down }

func (f *fakePush) SendToTopic(ctx context.Context, topic string, _ model.PushPayload) error {
	f.mu.Lock()
	f.sent = append(f.sent, topic)
	fail, stall, down := f.fail[topic], f.stall[topic], f.down
	f.mu.Unlock()

	switch {
	case down:
		return model.ErrProviderUnavailable
	case stall:
		<-ctx.Done()
		return ctx.Err()
	case fail:
		return errors.New("provider rejected topic")
	}
	return nil
}

func (f *fakePush) Subscribe(_ context.Context, handles []string, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return model.ErrProviderUnavailable
	}
	f.subscribed[topic] = append(f.subscribed[topic], handles...)
	return nil
}

func (f *fakePush) sentTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.sent)
	slices.Sort(out)
	return out
}

func (f *fakePush) subscriptions(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.subscribed[topic])
}

// fakeDispatcher collects outbound events.
type fakeDispatcher struct {
	pubsub.EventDispatcher
	mu     sync.Mutex
	events []model.OutboundEventer
}

func (d *fakeDispatcher) Publish(_ context.Context, ev model.OutboundEventer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *fakeDispatcher) published() []model.OutboundEventer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.events)
}

func openStores(t *testing.T) (*badgerstore.Directory, *badgerstore.MessageStore) {
	t.Helper()
	db, err := badgerstore.Open(badgerstore.Options{InMemory: true}, quietLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return badgerstore.NewDirectory(db, quietLog), badgerstore.NewMessageStore(db, quietLog)
}

func seed(t *testing.T, dir *badgerstore.Directory, rs ...model.Recipient) {
	t.Helper()
	for _, r := range rs {
		require.NoError(t, dir.Save(context.Background(), r))
	}
}

func student(id, primary, secondary string) model.Recipient {
	return model.Recipient{ID: id, Name: id, Primary: primary, Secondary: secondary}
}

func newConn(t *testing.T) registry.Connector {
	t.Helper()
	conn := registry.NewConnector(context.Background(), 16, registry.ConnectMetadata{})
	t.Cleanup(conn.Close)
	return conn
}

// liveConn is a connection whose transport writes every frame it is handed.
type liveConn struct {
	registry.Connector
	mu     sync.Mutex
	frames []event.Eventer
	done   chan struct{}
}

func newLiveConn(t *testing.T) *liveConn {
	t.Helper()
	lc := &liveConn{Connector: newConn(t), done: make(chan struct{})}
	go func() {
		defer close(lc.done)
		for {
			select {
			case <-lc.Done():
				return
			case ev := <-lc.Recv():
				lc.mu.Lock()
				lc.frames = append(lc.frames, ev)
				lc.mu.Unlock()
				lc.Written(ev, nil)
			}
		}
	}()
	t.Cleanup(lc.stop)
	return lc
}

// stop closes the connection and waits for its writer to exit.
func (lc *liveConn) stop() {
	lc.Close()
	<-lc.done
}

func (lc *liveConn) written() []event.Eventer {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return slices.Clone(lc.frames)
}

func routerConfig() RouterConfig {
	return RouterConfig{
		SendTimeout:    50 * time.Millisecond,
		ConfirmTimeout: 500 * time.Millisecond,
		CallTimeout:    100 * time.Millisecond,
		Budget:         time.Second,
	}
}
