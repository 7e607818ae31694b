package event

import (
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ Eventer = (*NoticeV1Event)(nil)

// NoticeV1Event carries one message to every live recipient of its audience.
//
// [STRATEGY]
// A single instance is shared by all target connections, so the wire form is
// computed once (see GetCached) no matter how many sessions receive it.
type NoticeV1Event struct {
	encodedCache
	payload *model.LivePayload
}

// NewNoticeV1Event wraps the live representation of a message.
func NewNoticeV1Event(msg *model.Message) *NoticeV1Event {
	return &NoticeV1Event{payload: model.NewLivePayload(msg)}
}

func (e *NoticeV1Event) GetID() string              { return e.payload.MessageID }
func (e *NoticeV1Event) GetPayload() any            { return e.payload }
func (e *NoticeV1Event) GetOccurredAt() int64       { return e.payload.Timestamp.UnixMilli() }
func (e *NoticeV1Event) GetKind() EventKind         { return NoticeCreated }
func (e *NoticeV1Event) GetPriority() EventPriority { return PriorityHigh }
