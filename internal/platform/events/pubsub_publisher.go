// Package events publishes order lifecycle events to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/domain"
)

// PubSubPublisher publishes order events to a single topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs a publisher for topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	// Consumers rely on per-order ordering of status changes.
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.ExternalID,
		Attributes: map[string]string{
			"type":        event.Type,
			"order_id":    event.ExternalID,
			"status":      string(event.Status),
			"is_test":     strconv.FormatBool(event.IsTest),
			"occurred_at": event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(event.ExternalID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// NopPublisher discards events. Used when no topic is configured.
type NopPublisher struct{}

// PublishOrderEvent implements the publisher contract.
func (NopPublisher) PublishOrderEvent(context.Context, domain.OrderEvent) error { return nil }
