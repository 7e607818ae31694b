package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/push"
	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
	"github.com/campusnotice/notice-delivery-service/internal/domain/topic"
)

// [SESSION_SERVICE] PRIMARY INTERFACE FOR THE LIVE TRANSPORT
type Sessioner interface {
	// Open creates the outbound side of a new connection. It is not reachable
	// until Register or RegisterAdmin binds it.
	Open(ctx context.Context, meta registry.ConnectMetadata) registry.Connector
	Register(ctx context.Context, recipientID string, conn registry.Connector) (*model.Recipient, error)
	RegisterAdmin(conn registry.Connector)
	Close(ctx context.Context, conn registry.Connector)
}

type SessionConfig struct {
	SendBuffer int
}

type SessionService struct {
	hub      registry.Hubber
	dir      store.Directory
	push     push.Provider
	observer *Observer
	logger   *slog.Logger
	config   SessionConfig
	now      func() time.Time
}

func NewSessionService(hub registry.Hubber, dir store.Directory, provider push.Provider, observer *Observer, cfg SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		hub:      hub,
		dir:      dir,
		push:     provider,
		observer: observer,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

func (s *SessionService) Open(ctx context.Context, meta registry.ConnectMetadata) registry.Connector {
	return registry.NewConnector(ctx, s.config.SendBuffer, meta)
}

// Register binds conn to the recipient. A previous connection of the same
// recipient is replaced and left to its own disconnect.
func (s *SessionService) Register(ctx context.Context, recipientID string, conn registry.Connector) (*model.Recipient, error) {
	rec, err := s.dir.FindByIdentity(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	replaced, movedFrom := s.hub.Register(rec.ID, conn)
	if replaced != nil {
		s.logger.Info("SESSION_REPLACED",
			"recipient_id", rec.ID,
			"stale_conn_id", replaced.GetID(),
			"conn_id", conn.GetID(),
		)
	}
	// The connection was bound to another identity, which is now offline.
	if movedFrom != "" {
		if err := s.dir.UpdateOnlineStatus(ctx, movedFrom, false, s.now()); err != nil {
			s.logger.Warn("ONLINE_STATUS_UPDATE_FAILED", "recipient_id", movedFrom, "err", err)
		}
	}

	if err := s.dir.UpdateOnlineStatus(ctx, rec.ID, true, s.now()); err != nil {
		s.logger.Warn("ONLINE_STATUS_UPDATE_FAILED", "recipient_id", rec.ID, "err", err)
	}

	// [TOPIC_SYNC] Handles registered before a group change follow the recipient.
	if len(rec.PushHandles) > 0 {
		name := topic.ForGroup(rec.Group())
		if err := s.push.Subscribe(ctx, rec.PushHandles, name); err != nil {
			s.logger.Warn("PUSH_SUBSCRIBE_FAILED", "recipient_id", rec.ID, "topic", name, "err", err)
		}
	}
	return rec, nil
}

// RegisterAdmin attaches conn as the presence observer.
func (s *SessionService) RegisterAdmin(conn registry.Connector) {
	s.observer.Attach(conn)
}

// Close ends the session of conn. A stale connection, already replaced by a
// newer one, leaves the presence table untouched.
func (s *SessionService) Close(ctx context.Context, conn registry.Connector) {
	defer conn.Close()

	if s.observer.Detach(conn.GetID()) {
		s.logger.Info("OBSERVER_DETACHED", "conn_id", conn.GetID())
	}

	recipientID, ok := s.hub.Unregister(conn.GetID())
	if !ok {
		return
	}
	if err := s.dir.UpdateOnlineStatus(ctx, recipientID, false, s.now()); err != nil {
		s.logger.Warn("ONLINE_STATUS_UPDATE_FAILED", "recipient_id", recipientID, "err", err)
	}
}
