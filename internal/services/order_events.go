package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func newOrderEvent(eventType string, order domain.Order, previous domain.OrderStatus, source string, at time.Time) domain.OrderEvent {
	return domain.OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		ExternalID:     order.ExternalID,
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentStatus:  order.PaymentStatus,
		Total:          order.Total,
		Currency:       order.Currency,
		IsTest:         order.IsTest,
		Source:         source,
		OccurredAt:     at.UTC(),
	}
}

// publishOrderEvent is best effort: the state change already happened, so failures are logged only.
func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event domain.OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": event.ExternalID,
			"type":    event.Type,
			"error":   err,
		})
	}
}
