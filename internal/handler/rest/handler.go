package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

const maxBodyBytes = 1 << 20

// API exposes the request/response surface: sending, acks, history, push
// handles and health.
type API struct {
	notices service.Noticer
	hub     registry.Hubber
	push    push.Provider
	logger  *slog.Logger
}

func NewAPI(notices service.Noticer, hub registry.Hubber, provider push.Provider, logger *slog.Logger) *API {
	return &API{
		notices: notices,
		hub:     hub,
		push:    provider,
		logger:  logger,
	}
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/health", a.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/notices", a.submit)
		r.Get("/messages/{recipientID}", a.history)
		r.Post("/messages/{messageID}/delivered", a.delivered)
		r.Post("/push-handles", a.pushHandle)

		r.Get("/admin/messages", a.adminHistory)
		r.Get("/admin/presence", a.presence)
	})
}

type deliveredRequest struct {
	RecipientID string `json:"recipientId"`
}

type pushHandleRequest struct {
	RecipientID string `json:"recipientId"`
	Handle      string `json:"handle"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Online        int    `json:"online"`
	PushAvailable bool   `json:"push_available"`
	Version       string `json:"version"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Online:        a.hub.Len(),
		PushAvailable: a.push.Available(),
		Version:       model.ServerVersion,
	})
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SenderRole == "" {
		req.SenderRole = model.SenderAdmin
	}

	// [DETACHED] The notice is stored before routing starts; a client that
	// hangs up must not cut the push fan-out short.
	out, err := a.notices.Submit(context.WithoutCancel(r.Context()), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Empty {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.notices.History(r.Context(), chi.URLParam(r, "recipientID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (a *API) adminHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.notices.AdminHistory(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (a *API) delivered(w http.ResponseWriter, r *http.Request) {
	var req deliveredRequest
	if !a.decode(w, r, &req) {
		return
	}
	first, err := a.notices.Acknowledge(r.Context(), chi.URLParam(r, "messageID"), req.RecipientID, model.AckRecipient)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "first": first})
}

func (a *API) pushHandle(w http.ResponseWriter, r *http.Request) {
	var req pushHandleRequest
	if !a.decode(w, r, &req) {
		return
	}
	added, err := a.notices.RegisterPushHandle(r.Context(), req.RecipientID, req.Handle)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "added": added})
}

func (a *API) presence(w http.ResponseWriter, r *http.Request) {
	snap, err := a.notices.Presence(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

// fail maps domain sentinels to status codes.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("HTTP_REQUEST_FAILED", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrEmptyGroups):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRecipientNotFound),
		errors.Is(err, model.ErrMessageNotFound),
		errors.Is(err, model.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(msgs []model.Message) []model.Message {
	if msgs == nil {
		return []model.Message{}
	}
	return msgs
}
