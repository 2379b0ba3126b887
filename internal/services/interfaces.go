package services

import (
	"context"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
)

// OrderEventPublisher accepts order lifecycle notifications for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// lineResolver abstracts the PricingResolver for the builder and session service.
type lineResolver interface {
	ResolveLine(ctx context.Context, req LineRequest) (ResolvedLine, error)
}

// orderCreator abstracts the OrderBuilder for checkout.
type orderCreator interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreatedOrder, error)
}

// sessionOpener abstracts the PaymentSessionService for checkout and payment retries.
type sessionOpener interface {
	Enabled() bool
	OpenSession(ctx context.Context, cmd OpenSessionCommand) (payments.Session, error)
}

// CheckoutService places orders and hands the customer over to hosted payment.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// ReconciliationService folds processor notifications back into order state.
type ReconciliationService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
	VerifySession(ctx context.Context, sessionID string) (VerifyResult, error)
}

// OrderStatusService owns every status change requested by customers and staff.
type OrderStatusService interface {
	CancelOrder(ctx context.Context, externalID, requesterEmail string) (domain.Order, error)
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (payments.Session, error)
	UpdateStatus(ctx context.Context, orderIDs []string, status string) (BulkStatusResult, error)
}

// OrderQueryService serves read-only order views for customers and staff.
type OrderQueryService interface {
	ListCustomerOrders(ctx context.Context, email string, limit, offset int) ([]domain.Order, error)
	GetCustomerOrder(ctx context.Context, externalID, email string) (domain.OrderWithItems, error)
	ListOrders(ctx context.Context, filter AdminOrderFilter) (AdminOrderListing, error)
	GetOrderDetails(ctx context.Context, orderID string) (domain.OrderWithItems, error)
}

// ShippingService quotes flat shipping rates.
type ShippingService interface {
	Quote(ctx context.Context, stateCode string, subtotal int64) (ShippingQuote, error)
}

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealth, error)
}
