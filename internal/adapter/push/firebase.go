package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/samber/lo"
	"google.golang.org/api/option"

	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

const (
	// subscribeBatch is the provider's limit of handles per topic-management call.
	subscribeBatch = 1000
	androidTTL     = 24 * time.Hour
)

var _ Provider = (*Firebase)(nil)

// messenger is the subset of the messaging client used here.
type messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

type Firebase struct {
	client messenger
}

type FirebaseOptions struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// NewFirebase initializes the messaging client. Without explicit credentials
// the application default credentials are used.
func NewFirebase(ctx context.Context, opts FirebaseOptions) (*Firebase, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	var conf *firebase.Config
	if opts.ProjectID != "" {
		conf = &firebase.Config{ProjectID: opts.ProjectID}
	}

	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &Firebase{client: client}, nil
}

func (f *Firebase) Available() bool { return true }

func (f *Firebase) SendToTopic(ctx context.Context, topic string, p model.PushPayload) error {
	if _, err := f.client.Send(ctx, buildMessage(topic, p)); err != nil {
		return fmt.Errorf("send to topic %s: %w", topic, err)
	}
	return nil
}

func (f *Firebase) Subscribe(ctx context.Context, handles []string, topic string) error {
	var (
		failed  []error
		reasons []string
	)
	for _, chunk := range lo.Chunk(lo.Uniq(lo.Compact(handles)), subscribeBatch) {
		resp, err := f.client.SubscribeToTopic(ctx, chunk, topic)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		for _, e := range resp.Errors {
			reasons = append(reasons, fmt.Sprintf("handle #%d: %s", e.Index, e.Reason))
		}
	}

	if len(failed) > 0 {
		for _, r := range reasons {
			failed = append(failed, errors.New(r))
		}
		return fmt.Errorf("subscribe to topic %s: %w", topic, errors.Join(failed...))
	}
	if len(reasons) > 0 {
		return &RejectedHandlesError{Topic: topic, Reasons: reasons}
	}
	return nil
}

// buildMessage renders the payload the way mobile clients expect it: a visible
// notification plus string data for the app to route on.
func buildMessage(topic string, p model.PushPayload) *messaging.Message {
	ttl := androidTTL
	return &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: map[string]string{
			"title":                 p.Title,
			"body":                  p.Body,
			"messageId":             p.MessageID,
			"timestamp":             p.Timestamp.UTC().Format(time.RFC3339Nano),
			"targetPrimaryGroups":   encodeGroups(p.TargetPrimaryGroups),
			"targetSecondaryGroups": encodeGroups(p.TargetSecondaryGroups),
			"click_action":          "FLUTTER_NOTIFICATION_CLICK",
			"sound":                 "default",
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}

// encodeGroups renders a group list as a JSON array string; data values must be strings.
func encodeGroups(groups []string) string {
	if groups == nil {
		groups = []string{}
	}
	b, _ := json.Marshal(groups)
	return string(b)
}
