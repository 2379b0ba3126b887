package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPaid indicates the processor reported a completed payment.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusTestOrder marks an order paid through the processor's test mode.
	OrderStatusTestOrder OrderStatus = "TEST_ORDER"
	// OrderStatusConfirmed indicates staff accepted the order for fulfilment.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusInProduction indicates the order is actively being produced.
	OrderStatusInProduction OrderStatus = "IN_PRODUCTION"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCanceled indicates the order was canceled before payment.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Payment status strings recorded alongside the internal status.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusExpired   = "expired"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusTestOrder,
	OrderStatusConfirmed,
	OrderStatusInProduction,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusTestOrder, OrderStatusCanceled},
	OrderStatusPaid:           {OrderStatusConfirmed},
	OrderStatusTestOrder:      {OrderStatusConfirmed},
	OrderStatusConfirmed:      {OrderStatusInProduction},
	OrderStatusInProduction:   {OrderStatusShipped},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusDelivered:      nil,
	OrderStatusCanceled:       nil,
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := orderStateTransitions[candidate]; !ok {
		return "", false
	}
	return candidate, true
}

// CanTransition reports whether the lifecycle table allows moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses that may move directly to the given status.
func Predecessors(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, status := range OrderStatuses {
		if CanTransition(status, to) {
			from = append(from, status)
		}
	}
	return from
}

// IsTerminal reports whether no further transitions leave the status.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderStateTransitions[s]
	return ok && len(next) == 0
}

// CountsAsRevenue reports whether orders in the status contribute to sales totals.
func (s OrderStatus) CountsAsRevenue() bool {
	switch s {
	case OrderStatusPaid, OrderStatusConfirmed, OrderStatusInProduction, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// Customer captures the purchaser contact details snapshotted onto an order.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address stores a structured shipping destination.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	Country    string
	PostalCode string
	Phone      string
}

// Order is the persisted purchase record. Amounts are integer minor units.
type Order struct {
	ID              string
	ExternalID      string
	Status          OrderStatus
	Customer        Customer
	ShippingAddress Address
	Currency        string
	Subtotal        int64
	ShippingCost    int64
	Tax             int64
	Total           int64
	IsTest          bool
	PaymentStatus   string
	PaymentID       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TotalsBalanced reports whether total equals subtotal plus shipping plus tax.
func (o Order) TotalsBalanced() bool {
	return o.Total == o.Subtotal+o.ShippingCost+o.Tax
}

// OrderItem is one priced line owned by an order.
type OrderItem struct {
	ID         string
	OrderID    string
	VariantID  string
	Name       string
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
}

// OrderWithItems bundles an order with its persisted lines.
type OrderWithItems struct {
	Order Order
	Items []OrderItem
}

// Variant is the purchasable catalog entry consulted for authoritative prices.
type Variant struct {
	ID          string
	Name        string
	Price       int64
	RetailPrice int64
	InStock     bool
}

// EffectivePrice returns the retail price when set, otherwise the base price.
func (v Variant) EffectivePrice() int64 {
	if v.RetailPrice > 0 {
		return v.RetailPrice
	}
	return v.Price
}

// ShippingRule stores the flat shipping price for a region code.
type ShippingRule struct {
	StateCode string
	Price     int64
}

// OrderStats summarises recent order activity for the admin dashboard.
type OrderStats struct {
	TotalOrders  int
	TotalRevenue int64
	StatusCounts map[OrderStatus]int
}

// Page packages offset-paginated list results.
type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

// Pages returns the number of pages needed for Total at Limit per page.
func (p Page[T]) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
