// Package store declares the persistence collaborators of the delivery core.
// The directory and the message store are owned by external storage; the core
// only calls them and never caches their records beyond one operation.
package store

import (
	"context"
	"time"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// Directory gives access to recipient records.
type Directory interface {
	// FindByIdentity returns model.ErrRecipientNotFound for unknown ids.
	FindByIdentity(ctx context.Context, id string) (*model.Recipient, error)
	// FindByGroups returns every recipient in primaries x secondaries, narrowed
	// to sub when it is not empty.
	FindByGroups(ctx context.Context, primaries, secondaries []string, sub string) ([]model.Recipient, error)
	UpdateOnlineStatus(ctx context.Context, id string, online bool, lastSeen time.Time) error
	// AppendPushHandle adds a handle once; added is false if it was already known.
	AppendPushHandle(ctx context.Context, id, handle string) (added bool, err error)
	List(ctx context.Context) ([]model.Recipient, error)
	Save(ctx context.Context, r model.Recipient) error
}

// MessageStore persists messages together with their receipt ledger.
type MessageStore interface {
	// Create stores the message and all of its receipts.
	Create(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	// MarkReceiptDelivered flips the receipt once. firstTime is false when it was
	// already delivered. Unknown pairs yield model.ErrReceiptNotFound.
	MarkReceiptDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (firstTime bool, err error)
	// ListRecent returns the newest messages first.
	ListRecent(ctx context.Context, limit int) ([]model.Message, error)
	// ListForAudience returns, newest first, the messages visible to the group.
	ListForAudience(ctx context.Context, primary, secondary, sub string, limit int) ([]model.Message, error)
}
