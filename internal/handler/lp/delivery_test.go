package lp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	lpmarshaller "github.com/campusnotice/notice-delivery-service/internal/handler/marshaller/lp"
)

type fakeSessions struct {
	mu     sync.Mutex
	bound  chan registry.Connector
	closed int
}

func (f *fakeSessions) Open(ctx context.Context, meta registry.ConnectMetadata) registry.Connector {
	return registry.NewConnector(ctx, 8, meta)
}

func (f *fakeSessions) Register(_ context.Context, recipientID string, conn registry.Connector) (*model.Recipient, error) {
	if recipientID != "s1" {
		return nil, model.ErrRecipientNotFound
	}
	f.bound <- conn
	return &model.Recipient{ID: recipientID}, nil
}

func (f *fakeSessions) RegisterAdmin(registry.Connector) {}

func (f *fakeSessions) Close(_ context.Context, conn registry.Connector) {
	conn.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func newRouter(sessions *fakeSessions, timeout time.Duration) http.Handler {
	h := NewLPHandler(sessions, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Get("/api/poll/{recipientID}", h.Poll)
	return r
}

func TestPoll_ReturnsQueuedBatch(t *testing.T) {
	req := require.New(t)
	sessions := &fakeSessions{bound: make(chan registry.Connector, 1)}
	srv := httptest.NewServer(newRouter(sessions, 5*time.Second))
	defer srv.Close()

	// Given a pending poll
	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/api/poll/s1")
		done <- result{resp, err}
	}()

	// When two notices are queued on its session
	conn := <-sessions.bound
	for _, id := range []string{"m-1", "m-2"} {
		msg := &model.Message{ID: id, SenderName: "Dean", Body: "b", CreatedAt: time.Now()}
		req.NoError(conn.Send(event.NewNoticeV1Event(msg), time.Second))
	}

	// Then the poll answers with at least the first one, in order
	res := <-done
	req.NoError(res.err)
	defer res.resp.Body.Close()
	req.Equal(http.StatusOK, res.resp.StatusCode)

	var body lpmarshaller.Response
	req.NoError(json.NewDecoder(res.resp.Body).Decode(&body))
	req.NotEmpty(body.Events)

	var first struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	req.NoError(json.Unmarshal(body.Events[0], &first))
	req.Equal("m-1", first.ID)
	req.Equal("notice", first.Type)

	req.Eventually(func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return sessions.closed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPoll_ConfirmsWrittenResponse(t *testing.T) {
	req := require.New(t)
	sessions := &fakeSessions{bound: make(chan registry.Connector, 1)}
	srv := httptest.NewServer(newRouter(sessions, 5*time.Second))
	defer srv.Close()

	// Given a pending poll and a notice delivered on its session
	type result struct {
		status int
		err    error
	}
	polled := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/api/poll/s1")
		if err != nil {
			polled <- result{err: err}
			return
		}
		resp.Body.Close()
		polled <- result{status: resp.StatusCode}
	}()
	conn := <-sessions.bound

	msg := &model.Message{ID: "m-9", SenderName: "Dean", Body: "b", CreatedAt: time.Now()}
	err := conn.Deliver(context.Background(), event.NewNoticeV1Event(msg), time.Second)

	// Then the delivery is confirmed by the response write
	req.NoError(err)
	res := <-polled
	req.NoError(res.err)
	req.Equal(http.StatusOK, res.status)
}

func TestPoll_TimeoutAndUnknown(t *testing.T) {
	req := require.New(t)
	sessions := &fakeSessions{bound: make(chan registry.Connector, 1)}
	srv := httptest.NewServer(newRouter(sessions, 50*time.Millisecond))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/poll/s1")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/poll/ghost")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}
