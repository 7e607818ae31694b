package event

import "sync/atomic"

type EventKind int16

const (
	Connected       EventKind = iota + 1 // [SYSTEM]
	Disconnected                         // [SYSTEM]
	CommandRejected                      // [SYSTEM]
	NoticeCreated                        // [BUSINESS]
	NoticeSent                           // [BUSINESS] reply to the sender
	PresenceUpdated                      // [ADMIN]
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case CommandRejected:
		return "error"
	case NoticeCreated:
		return "notice"
	case NoticeSent:
		return "notice_sent"
	case PresenceUpdated:
		return "presence"
	default:
		return "unknown"
	}
}

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for all data packets flowing to live connections.
type Eventer interface {
	GetID() string
	GetKind() EventKind
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetPayload() any
	GetCached() any
	SetCached(any)
}

// encodedCache holds the wire form of an event.
// One event instance is shared by every connection it is sent to, and each
// connection's writer may race to fill it, so access goes through atomic.Value.
type encodedCache struct {
	v atomic.Value
}

func (c *encodedCache) GetCached() any  { return c.v.Load() }
func (c *encodedCache) SetCached(v any) { c.v.Store(v) }
