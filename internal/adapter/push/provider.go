// Package push talks to the offline delivery provider. Notices are fanned out
// per group topic; device handles are subscribed to topics when they register.
package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

// Provider is the push backend as seen by the delivery core.
type Provider interface {
	// SendToTopic publishes one payload to every handle subscribed to topic.
	SendToTopic(ctx context.Context, topic string, payload model.PushPayload) error
	// Subscribe attaches handles to topic. Handles rejected by the provider are
	// reported as a *RejectedHandlesError; accepted ones stay subscribed.
	Subscribe(ctx context.Context, handles []string, topic string) error
	// Available reports whether calls have a chance to succeed.
	Available() bool
}

// RejectedHandlesError lists handles the provider refused while the call itself
// went through. Stale device handles end up here; they say nothing about the
// health of the provider.
type RejectedHandlesError struct {
	Topic   string
	Reasons []string
}

func (e *RejectedHandlesError) Error() string {
	return fmt.Sprintf("subscribe to topic %s: %d handle(s) rejected: %s",
		e.Topic, len(e.Reasons), strings.Join(e.Reasons, "; "))
}
