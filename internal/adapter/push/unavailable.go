package push

import (
	"context"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ Provider = Unavailable{}

// Unavailable is installed when no provider is configured.
// Every call fails fast so the live path is never held up.
type Unavailable struct{}

func (Unavailable) SendToTopic(context.Context, string, model.PushPayload) error {
	return model.ErrProviderUnavailable
}

func (Unavailable) Subscribe(context.Context, []string, string) error {
	return model.ErrProviderUnavailable
}

func (Unavailable) Available() bool { return false }
