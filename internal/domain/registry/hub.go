/*
Package registry holds the process-local presence table: which recipient is
reachable over which live connection right now.

Key Architectural Concepts:
  - Single Owner: one mutex guards both the forward (recipient -> connection)
    and the reverse (connection -> recipient) index. Nothing outside the Hub
    ever sees the raw maps; readers get point-in-time copies via Snapshot.
  - Last Writer Wins: registering an identity that is already present replaces
    its connection. The stale connection is not notified; its own later
    disconnect no longer maps to anything and is a no-op.
  - Best-Effort Notification: every mutation is announced on a bounded channel
    without blocking. A slow or absent consumer only loses notifications.
  - Process Local: instances of the service do not share presence. A recipient
    connected to another process is absent here.
*/
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hubber defines the gateway for session management used by the delivery core.
type Hubber interface {
	Register(recipientID string, conn Connector) (replaced Connector, movedFrom string)
	Unregister(connID uuid.UUID) (recipientID string, ok bool)
	Lookup(recipientID string) (Connector, bool)
	Snapshot() map[string]Connector
	IsConnected(recipientID string) bool
	Len() int
	Changes() <-chan Change
}

// Change announces one presence mutation.
type Change struct {
	RecipientID string
	Online      bool
	At          time.Time
}

// Hub is the [SINGLE_OWNER_REGISTRY] of live sessions.
type Hub struct {
	mu          sync.RWMutex
	byRecipient map[string]Connector
	byConn      map[uuid.UUID]string

	changes chan Change
	logger  *slog.Logger
	config  hubConfig
}

type hubConfig struct {
	notifyBuffer int
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		byRecipient: make(map[string]Connector),
		byConn:      make(map[uuid.UUID]string),
		logger:      slog.Default(),
		config:      hubConfig{notifyBuffer: 256},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.changes = make(chan Change, h.config.notifyBuffer)
	return h
}

// Register binds the recipient to conn. It returns the connection it replaced,
// if any, and the identity conn was bound to before, if it changed.
func (h *Hub) Register(recipientID string, conn Connector) (Connector, string) {
	h.mu.Lock()
	prev, had := h.byRecipient[recipientID]
	if had {
		// [STALE_HANDLE] The old connection stays open but is no longer reachable.
		delete(h.byConn, prev.GetID())
	}
	// The same connection re-registering under another identity drops its old binding.
	oldID, moved := h.byConn[conn.GetID()]
	moved = moved && oldID != recipientID
	if moved {
		delete(h.byRecipient, oldID)
	}
	h.byRecipient[recipientID] = conn
	h.byConn[conn.GetID()] = recipientID
	h.auditLocked(recipientID, conn)
	h.mu.Unlock()

	now := time.Now()
	if moved {
		h.notify(Change{RecipientID: oldID, Online: false, At: now})
	}
	h.notify(Change{RecipientID: recipientID, Online: true, At: now})

	if !moved {
		oldID = ""
	}
	if had && prev.GetID() != conn.GetID() {
		return prev, oldID
	}
	return nil, oldID
}

// Unregister removes the session owned by connID.
// A stale connection (already replaced) is not found and nothing changes.
func (h *Hub) Unregister(connID uuid.UUID) (string, bool) {
	h.mu.Lock()
	recipientID, ok := h.byConn[connID]
	if ok {
		delete(h.byConn, connID)
		delete(h.byRecipient, recipientID)
		h.auditLocked("", nil)
	}
	h.mu.Unlock()

	if !ok {
		return "", false
	}
	h.notify(Change{RecipientID: recipientID, Online: false, At: time.Now()})
	return recipientID, true
}

func (h *Hub) Lookup(recipientID string) (Connector, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.byRecipient[recipientID]
	return conn, ok
}

func (h *Hub) IsConnected(recipientID string) bool {
	_, ok := h.Lookup(recipientID)
	return ok
}

// Snapshot returns a point-in-time copy safe to iterate during slow I/O.
func (h *Hub) Snapshot() map[string]Connector {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Connector, len(h.byRecipient))
	for id, conn := range h.byRecipient {
		out[id] = conn
	}
	return out
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRecipient)
}

// Changes exposes the notification stream. It is never closed.
func (h *Hub) Changes() <-chan Change {
	return h.changes
}

func (h *Hub) notify(c Change) {
	select {
	case h.changes <- c:
	default:
		h.logger.Warn("PRESENCE_NOTIFY_DROPPED", "recipient_id", c.RecipientID, "online", c.Online)
	}
}

// auditLocked checks that both indexes still describe the same sessions.
// On disagreement the table is restarted instead of repaired in place.
func (h *Hub) auditLocked(recipientID string, conn Connector) {
	consistent := len(h.byRecipient) == len(h.byConn)
	if consistent && conn != nil {
		consistent = h.byConn[conn.GetID()] == recipientID
	}
	if consistent {
		return
	}
	h.logger.Error("PRESENCE_TABLE_CORRUPTED",
		"by_recipient", len(h.byRecipient),
		"by_conn", len(h.byConn),
	)
	h.resetLocked()
}

// Reset drops every session and closes its connection. Clients reconnect and
// register again.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

func (h *Hub) resetLocked() {
	for _, conn := range h.byRecipient {
		conn.Close()
	}
	h.byRecipient = make(map[string]Connector)
	h.byConn = make(map[uuid.UUID]string)
}

// Shutdown closes every live connection on process stop.
func (h *Hub) Shutdown() {
	h.Reset()
}
