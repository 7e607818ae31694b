package service

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/event"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/domain/registry"
)

// Observer keeps at most one admin connection informed about per-group
// presence aggregates.
//
// [STATES]
//   - idle: nobody attached; triggers are absorbed without touching storage.
//   - attached: each trigger recomputes the aggregates and pushes them.
//
// Triggers come from presence changes, audience resolutions (Notify) and a
// periodic refresh. They are coalesced through a one-slot channel, so a burst
// of changes costs one recomputation that already reflects all of them.
type Observer struct {
	hub    registry.Hubber
	dir    store.Directory
	logger *slog.Logger

	sendTimeout time.Duration
	refresh     time.Duration

	mu    sync.Mutex
	admin registry.Connector

	trigger chan struct{}
	cron    *cron.Cron
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewObserver(hub registry.Hubber, dir store.Directory, sendTimeout, refresh time.Duration, logger *slog.Logger) *Observer {
	return &Observer{
		hub:         hub,
		dir:         dir,
		logger:      logger,
		sendTimeout: sendTimeout,
		refresh:     refresh,
		trigger:     make(chan struct{}, 1),
	}
}

// Attach makes conn the observer, replacing any previous one, and schedules
// an immediate snapshot.
func (o *Observer) Attach(conn registry.Connector) {
	o.mu.Lock()
	prev := o.admin
	o.admin = conn
	o.mu.Unlock()

	if prev != nil && prev.GetID() != conn.GetID() {
		o.logger.Info("OBSERVER_REPLACED", "prev_conn_id", prev.GetID(), "conn_id", conn.GetID())
	}
	o.Notify()
}

// Detach returns to idle only if connID is the current observer.
func (o *Observer) Detach(connID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.admin == nil || o.admin.GetID() != connID {
		return false
	}
	o.admin = nil
	return true
}

// Attached reports whether an observer is present.
func (o *Observer) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admin != nil
}

// Notify requests a recomputation. It never blocks.
func (o *Observer) Notify() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Start runs the observer loop until Stop.
func (o *Observer) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})

	o.cron = cron.New()
	o.cron.Schedule(cron.Every(o.refresh), cron.FuncJob(o.Notify))
	o.cron.Start()

	go o.loop(ctx)
	return nil
}

func (o *Observer) Stop(ctx context.Context) error {
	if o.cancel == nil {
		return nil
	}
	<-o.cron.Stop().Done()
	o.cancel()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)
	changes := o.hub.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			o.Notify()
		case <-o.trigger:
			o.publish(ctx)
		}
	}
}

func (o *Observer) publish(ctx context.Context) {
	o.mu.Lock()
	admin := o.admin
	o.mu.Unlock()
	if admin == nil {
		return
	}

	snap, err := o.Snapshot(ctx)
	if err != nil {
		o.logger.Error("PRESENCE_AGGREGATE_FAILED", "err", err)
		return
	}

	ev := event.NewSystemEvent(event.PresenceUpdated, event.PriorityNormal, snap)
	if err := admin.Send(ev, o.sendTimeout); err != nil {
		switch {
		case errors.Is(err, model.ErrConnectionClosed):
			o.Detach(admin.GetID())
		case errors.Is(err, model.ErrSendTimeout):
			// The admin queue is full. Try again once it drains; each attempt
			// waits sendTimeout, which paces the retries.
			o.Notify()
		}
		o.logger.Warn("PRESENCE_PUSH_FAILED", "conn_id", admin.GetID(), "err", err)
	}
}

// Snapshot computes the per-group totals from the directory and the current
// presence table. Groups are ordered newest secondary first, then by primary.
func (o *Observer) Snapshot(ctx context.Context) (*model.PresenceSnapshot, error) {
	recipients, err := o.dir.List(ctx)
	if err != nil {
		return nil, err
	}
	online := o.hub.Snapshot()

	byGroup := make(map[model.GroupKey]*model.GroupAggregate)
	snap := &model.PresenceSnapshot{GeneratedAt: time.Now().UTC()}
	for _, r := range recipients {
		key := r.Group()
		agg, ok := byGroup[key]
		if !ok {
			agg = &model.GroupAggregate{Primary: key.Primary, Secondary: key.Secondary}
			byGroup[key] = agg
		}
		agg.Total++
		if _, ok := online[r.ID]; ok {
			agg.Online++
			snap.TotalOnline++
		}
	}

	snap.Groups = make([]model.GroupAggregate, 0, len(byGroup))
	for _, agg := range byGroup {
		snap.Groups = append(snap.Groups, *agg)
	}
	slices.SortFunc(snap.Groups, func(a, b model.GroupAggregate) int {
		return cmp.Or(cmp.Compare(b.Secondary, a.Secondary), cmp.Compare(a.Primary, b.Primary))
	})
	return snap, nil
}
