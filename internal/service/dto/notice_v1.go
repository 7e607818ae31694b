package dto

import (
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
	"github.com/campusnotice/notice-delivery-service/internal/service"
)

// [RABBIT_V1] THE PAYLOAD OTHER SERVICES PUBLISH ON notice.submit.v1
type NoticeV1 struct {
	SenderRole string   `json:"sender_role"`
	SenderName string   `json:"sender_name"`
	Body       string   `json:"body"`
	Category   string   `json:"category"`
	Target     TargetV1 `json:"target"`
}

type TargetV1 struct {
	PrimaryGroups   []string `json:"primary_groups"`
	SecondaryGroups []string `json:"secondary_groups"`
	SubGroup        string   `json:"sub_group"`
}

// ToRequest maps the bus payload onto a submission. Notices from the bus
// are sent as admin unless the producer says otherwise.
func (d *NoticeV1) ToRequest() service.SubmitRequest {
	role := model.SenderRole(d.SenderRole)
	if role == "" {
		role = model.SenderAdmin
	}
	return service.SubmitRequest{
		SenderRole:      role,
		SenderName:      d.SenderName,
		Body:            d.Body,
		Category:        d.Category,
		PrimaryGroups:   d.Target.PrimaryGroups,
		SecondaryGroups: d.Target.SecondaryGroups,
		SubGroup:        d.Target.SubGroup,
	}
}

// [RABBIT_V1] A DELIVERY REPORT ON notice.receipt.ack.v1
type ReceiptAckV1 struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}
