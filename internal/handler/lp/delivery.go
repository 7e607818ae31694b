package lp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	lpmarshaller "github.com/campusnotice/notice-delivery-service/internal/handler/marshaller/lp"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

const maxBatch = 16

// LPHandler serves recipients that cannot hold a websocket open.
// While a poll is pending the recipient is present like any live session.
type LPHandler struct {
	sessions service.Sessioner
	logger   *slog.Logger
	timeout  time.Duration
}

func NewLPHandler(sessions service.Sessioner, timeout time.Duration, logger *slog.Logger) *LPHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LPHandler{
		sessions: sessions,
		logger:   logger,
		timeout:  timeout,
	}
}

// Poll handles the long-polling request.
// It holds the connection until an event arrives or timeout occurs.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		http.Error(w, "recipient id is required", http.StatusBadRequest)
		return
	}

	// 1. Temporary session, alive only for this request.
	conn := h.sessions.Open(r.Context(), registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.sessions.Close(context.WithoutCancel(r.Context()), conn)

	if _, err := h.sessions.Register(r.Context(), recipientID, conn); err != nil {
		if errors.Is(err, model.ErrRecipientNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("LP_REGISTER_FAILED", "recipient_id", recipientID, "err", err)
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var events []event.Eventer

	// 2. Wait for data or timeout.
	select {
	case <-r.Context().Done():
		return

	case <-conn.Done():
		w.WriteHeader(http.StatusNoContent)
		return

	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return

	case ev := <-conn.Recv():
		events = append(events, ev)

		// Drain what is already queued to save the client a round trip.
	drainLoop:
		for len(events) < maxBatch {
			select {
			case next := <-conn.Recv():
				events = append(events, next)
			default:
				break drainLoop
			}
		}
	}

	// 3. Final transmission.
	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		confirm(conn, events, err)
		h.logger.Error("LP_MARSHAL_FAILED", "recipient_id", recipientID, "err", err)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(data); err == nil {
		if err = http.NewResponseController(w).Flush(); errors.Is(err, http.ErrNotSupported) {
			err = nil
		}
	}
	confirm(conn, events, err)
	if err != nil {
		h.logger.Warn("LP_WRITE_FAILED", "recipient_id", recipientID, "events", len(events), "err", err)
	}
}

// confirm reports the outcome of one response write for every event in it.
func confirm(conn registry.Connector, events []event.Eventer, err error) {
	for _, ev := range events {
		conn.Written(ev, err)
	}
}
