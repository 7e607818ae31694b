package pubsub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus bundles the publisher of this node with a way to open consumers.
// With RabbitMQ every topic is a durable fanout exchange and every consumer
// gets its own queue named after the topic and a suffix; in process a single
// go channel serves both sides.
type Bus struct {
	publisher message.Publisher
	newSub    func(queueSuffix string) (message.Subscriber, error)

	mu   sync.Mutex
	subs []message.Subscriber
}

// NewAMQPBus connects to the broker at url.
func NewAMQPBus(url string, logger watermill.LoggerAdapter) (*Bus, error) {
	pub, err := amqp.NewPublisher(amqp.NewDurablePubSubConfig(url, nil), logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	return &Bus{
		publisher: pub,
		newSub: func(suffix string) (message.Subscriber, error) {
			cfg := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(suffix))
			return amqp.NewSubscriber(cfg, logger)
		},
	}, nil
}

// NewInProcessBus keeps messages inside this process.
func NewInProcessBus(logger watermill.LoggerAdapter) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return &Bus{
		publisher: ch,
		newSub: func(string) (message.Subscriber, error) {
			return ch, nil
		},
	}
}

func (b *Bus) Publisher() message.Publisher { return b.publisher }

// Subscriber opens a consumer whose queue is identified by queueSuffix.
func (b *Bus) Subscriber(queueSuffix string) (message.Subscriber, error) {
	sub, err := b.newSub(queueSuffix)
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", queueSuffix, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Close stops consumers first, then the publisher.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if any(s) == any(b.publisher) {
			continue
		}
		errs = append(errs, s.Close())
	}
	errs = append(errs, b.publisher.Close())
	return errors.Join(errs...)
}
