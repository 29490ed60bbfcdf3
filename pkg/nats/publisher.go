package nats

import (
	"context"
	"fmt"

	"github.com/crawlkit/prodstore/pkg/messaging"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsPublisher publishes product mutation events to JetStream.
type NatsPublisher struct {
	js jetstream.JetStream
}

// NewNatsPublisher wraps a JetStream context as a messaging.Publisher.
func NewNatsPublisher(js jetstream.JetStream) *NatsPublisher {
	return &NatsPublisher{js: js}
}

// Publish serializes the event and sends it to its subject. The JetStream
// ack is awaited so a lost broker surfaces as an error to the caller.
func (p *NatsPublisher) Publish(ctx context.Context, event messaging.Event) error {
	data, err := event.Payload()
	if err != nil {
		return fmt.Errorf("failed to get event payload: %w", err)
	}
	if _, err := p.js.Publish(ctx, event.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", event.Subject(), err)
	}
	return nil
}
