package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	wsmarshaller "github.com/campusnotice/notice-delivery-service/internal/handler/marshaller/ws"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

var errNotRegistered = errors.New("connection is not registered")

// Config holds the keep-alive and framing limits of a live connection.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendTimeout    time.Duration
}

type WSHandler struct {
	logger   *slog.Logger
	sessions service.Sessioner
	notices  service.Noticer
	upgrader websocket.Upgrader
	config   Config
}

func NewWSHandler(logger *slog.Logger, sessions service.Sessioner, notices service.Noticer, cfg Config) *WSHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 << 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}

	return &WSHandler{
		logger:   logger,
		sessions: sessions,
		notices:  notices,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
		config: cfg,
	}
}

// session is the per-connection state owned by the read loop.
type session struct {
	conn        registry.Connector
	recipientID string
	admin       bool
	log         *slog.Logger
	inflight    sync.WaitGroup
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}

	// 2. OPEN AN UNBOUND SESSION
	// It becomes reachable only after a register or register_admin command.
	ctx := r.Context()
	conn := h.sessions.Open(ctx, registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	s := &session{
		conn: conn,
		log:  h.logger.With("conn_id", conn.GetID().String()),
	}
	s.log.Info("WS_OPENED", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, s)
	}()

	h.readPump(ctx, ws, s)

	// 3. [RESOURCE_RECLAMATION]
	s.inflight.Wait()
	h.sessions.Close(context.WithoutCancel(ctx), conn)
	<-writerDone
	s.log.Info("WS_CLOSED", "recipient_id", s.recipientID, "admin", s.admin)
}

// readPump is the only reader of ws. It returns when the peer goes away or
// stops answering pings.
func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, s *session) {
	defer s.conn.Close()

	ws.SetReadLimit(h.config.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("WS_READ_FAILED", "err", err)
			}
			return
		}

		cmd, err := wsmarshaller.UnmarshallCommand(data)
		if err != nil {
			h.reject(s, "", err)
			continue
		}
		h.dispatch(ctx, s, cmd)
	}
}

// writePump is the only writer of ws. Replies and deliveries both pass
// through the connection queue, so frames keep their enqueue order.
func (h *WSHandler) writePump(ws *websocket.Conn, s *session) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-s.conn.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-s.conn.Recv():
			data, err := wsmarshaller.MarshallDeliveryEvent(ev)
			if err != nil {
				s.log.Error("WS_MARSHAL_FAILED", "event_id", ev.GetID(), "err", err)
				s.conn.Written(ev, err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			err = ws.WriteMessage(websocket.TextMessage, data)
			// [WRITE_CONFIRMATION] A notice counts as delivered live only from here.
			s.conn.Written(ev, err)
			if err != nil {
				s.log.Warn("WS_WRITE_FAILED", "event_id", ev.GetID(), "err", err)
				s.conn.Close()
				return
			}
			s.log.Debug("WS_EVENT_PUSHED", "event_type", ev.GetKind().String(), "event_id", ev.GetID())

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, s *session, cmd *wsmarshaller.ClientCommand) {
	switch cmd.Type {
	case wsmarshaller.CommandRegister:
		rec, err := h.sessions.Register(ctx, cmd.RecipientID, s.conn)
		if err != nil {
			h.reject(s, cmd.Type, err)
			return
		}
		s.recipientID = rec.ID
		s.log.Info("WS_REGISTERED", "recipient_id", rec.ID)
		h.reply(s, event.Connected, &model.ConnectedPayload{
			Ok:            true,
			ConnectionID:  s.conn.GetID().String(),
			RecipientID:   rec.ID,
			ServerVersion: model.ServerVersion,
		})

	case wsmarshaller.CommandRegisterAdmin:
		s.admin = true
		h.reply(s, event.Connected, &model.ConnectedPayload{
			Ok:            true,
			ConnectionID:  s.conn.GetID().String(),
			ServerVersion: model.ServerVersion,
		})
		// Attached after the handshake so the first snapshot follows it.
		h.sessions.RegisterAdmin(s.conn)
		s.log.Info("WS_ADMIN_REGISTERED")

	case wsmarshaller.CommandAck:
		recipientID := s.recipientID
		if recipientID == "" {
			recipientID = cmd.RecipientID
		}
		if recipientID == "" || cmd.MessageID == "" {
			h.reject(s, cmd.Type, errNotRegistered)
			return
		}
		if _, err := h.notices.Acknowledge(ctx, cmd.MessageID, recipientID, model.AckRecipient); err != nil {
			h.reject(s, cmd.Type, err)
		}

	case wsmarshaller.CommandSendNotice:
		h.submit(ctx, s, cmd)

	default:
		h.reject(s, cmd.Type, model.ErrInvalidRequest)
	}
}

// submit runs a notice outside the read loop so keep-alives are still read
// while the push path works through its budget.
func (h *WSHandler) submit(ctx context.Context, s *session, cmd *wsmarshaller.ClientCommand) {
	var role model.SenderRole
	switch {
	case s.admin:
		role = model.SenderAdmin
	case s.recipientID != "":
		role = model.SenderStudent
	default:
		h.reject(s, cmd.Type, errNotRegistered)
		return
	}

	var req service.SubmitRequest
	if err := json.Unmarshal(cmd.Notice, &req); err != nil {
		h.reject(s, cmd.Type, model.ErrInvalidRequest)
		return
	}
	req.SenderRole = role

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		// [DETACHED] A sender going away does not abort a notice already accepted.
		out, err := h.notices.Submit(context.WithoutCancel(ctx), req)
		if err != nil {
			h.reject(s, cmd.Type, err)
			return
		}
		h.reply(s, event.NoticeSent, &out)
	}()
}

func (h *WSHandler) reply(s *session, kind event.EventKind, payload any) {
	ev := event.NewSystemEvent(kind, event.PriorityNormal, payload)
	if err := s.conn.Send(ev, h.config.SendTimeout); err != nil {
		s.log.Debug("WS_REPLY_DROPPED", "event_type", kind.String(), "err", err)
	}
}

func (h *WSHandler) reject(s *session, command string, err error) {
	s.log.Debug("WS_COMMAND_REJECTED", "command", command, "err", err)
	h.reply(s, event.CommandRejected, &model.ErrorPayload{
		Command: command,
		Reason:  err.Error(),
	})
}
