package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tradeyard/checkout-api/internal/services"
)

// PubSubEventPublisher publishes checkout lifecycle events to Pub/Sub topics.
type PubSubEventPublisher struct {
	completed *pubsub.Topic
	cleared   *pubsub.Topic
	marshal   func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Both
// topics are required.
func NewPubSubEventPublisher(completed, cleared *pubsub.Topic) (*PubSubEventPublisher, error) {
	if completed == nil {
		return nil, errors.New("pubsub event publisher: checkout completed topic is required")
	}
	if cleared == nil {
		return nil, errors.New("pubsub event publisher: basket cleared topic is required")
	}
	return &PubSubEventPublisher{
		completed: completed,
		cleared:   cleared,
		marshal:   json.Marshal,
	}, nil
}

// PublishCheckoutCompleted announces a finished checkout on the completed topic.
func (p *PubSubEventPublisher) PublishCheckoutCompleted(ctx context.Context, event services.CheckoutCompletedEvent) error {
	if p == nil || p.completed == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout completed event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "identityKey", event.IdentityKey)
	setAttr(attrs, "currency", event.Currency)

	result := p.completed.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish checkout completed event: %w", err)
	}
	return nil
}

// PublishBasketCleared announces purchased entries leaving the basket.
func (p *PubSubEventPublisher) PublishBasketCleared(ctx context.Context, event services.BasketClearedEvent) error {
	if p == nil || p.cleared == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal basket cleared event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "identityKey", event.IdentityKey)

	result := p.cleared.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish basket cleared event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
