package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Variants() VariantRepository
	ShippingRules() ShippingRuleRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders and the items they own.
type OrderRepository interface {
	// Insert stores a new order. A duplicate external id yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	// InsertItems stores all items of an order or none of them.
	InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	// Delete removes an order and any items written for it.
	Delete(ctx context.Context, orderID string) error

	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (domain.Order, error)
	ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)

	// UpdateStatusIf applies update only while the stored order still satisfies its guard.
	// The returned bool reports whether the write happened; the order reflects the stored state.
	UpdateStatusIf(ctx context.Context, externalID string, update StatusUpdate) (domain.Order, bool, error)
	// UpdateStatusByIDs applies update to each listed order whose guard holds and returns the ids written.
	UpdateStatusByIDs(ctx context.Context, orderIDs []string, update StatusUpdate) ([]string, error)

	ListByCustomer(ctx context.Context, email string, limit, offset int) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	Stats(ctx context.Context, since time.Time) (domain.OrderStats, error)
}

// StatusUpdate describes a guarded status write.
type StatusUpdate struct {
	// Expected restricts the write to orders currently in one of these statuses. Empty means any.
	Expected []domain.OrderStatus
	// UnlessPaymentStatus skips orders whose payment status already equals the value.
	UnlessPaymentStatus string

	Status        domain.OrderStatus
	PaymentStatus *string
	PaymentID     *string
	UpdatedAt     time.Time
}

// Allows reports whether an order currently satisfies the guard.
func (u StatusUpdate) Allows(order domain.Order) bool {
	if u.UnlessPaymentStatus != "" && order.PaymentStatus == u.UnlessPaymentStatus {
		return false
	}
	if len(u.Expected) == 0 {
		return true
	}
	for _, status := range u.Expected {
		if order.Status == status {
			return true
		}
	}
	return false
}

// Apply returns the order with the update written onto it.
func (u StatusUpdate) Apply(order domain.Order) domain.Order {
	order.Status = u.Status
	if u.PaymentStatus != nil {
		order.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentID != nil {
		id := *u.PaymentID
		order.PaymentID = &id
	}
	order.UpdatedAt = u.UpdatedAt.UTC()
	return order
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        *domain.OrderStatus
	CustomerEmail string
	IsTest        *bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Page          int
	Limit         int
}

// VariantRepository reads purchasable catalog variants.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
}

// ShippingRuleRepository reads per-region shipping prices.
type ShippingRuleRepository interface {
	FindByState(ctx context.Context, stateCode string) (domain.ShippingRule, error)
}
