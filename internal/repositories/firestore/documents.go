package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	Country    string `firestore:"country"`
	PostalCode string `firestore:"postal_code"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderDocument struct {
	ID              string           `firestore:"id"`
	ExternalID      string           `firestore:"external_id"`
	Status          string           `firestore:"status"`
	Customer        customerDocument `firestore:"customer"`
	CustomerEmailLC string           `firestore:"customer_email_lc"`
	ShippingAddress addressDocument  `firestore:"shipping_address"`
	Currency        string           `firestore:"currency"`
	Subtotal        int64            `firestore:"subtotal"`
	ShippingCost    int64            `firestore:"shipping_cost"`
	Tax             int64            `firestore:"tax"`
	Total           int64            `firestore:"total"`
	IsTest          bool             `firestore:"is_test"`
	PaymentStatus   string           `firestore:"payment_status"`
	PaymentID       *string          `firestore:"payment_id"`
	CreatedAt       time.Time        `firestore:"created_at"`
	UpdatedAt       time.Time        `firestore:"updated_at"`
}

func newOrderDocument(order domain.Order) orderDocument {
	return orderDocument{
		ID:         order.ID,
		ExternalID: order.ExternalID,
		Status:     string(order.Status),
		Customer: customerDocument{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		CustomerEmailLC: strings.ToLower(strings.TrimSpace(order.Customer.Email)),
		ShippingAddress: addressDocument(order.ShippingAddress),
		Currency:        order.Currency,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Tax:             order.Tax,
		Total:           order.Total,
		IsTest:          order.IsTest,
		PaymentStatus:   order.PaymentStatus,
		PaymentID:       order.PaymentID,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain() domain.Order {
	return domain.Order{
		ID:              d.ID,
		ExternalID:      d.ExternalID,
		Status:          domain.OrderStatus(d.Status),
		Customer:        domain.Customer(d.Customer),
		ShippingAddress: domain.Address(d.ShippingAddress),
		Currency:        d.Currency,
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		Tax:             d.Tax,
		Total:           d.Total,
		IsTest:          d.IsTest,
		PaymentStatus:   d.PaymentStatus,
		PaymentID:       d.PaymentID,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

type orderItemDocument struct {
	ID         string `firestore:"id"`
	OrderID    string `firestore:"order_id"`
	VariantID  string `firestore:"variant_id"`
	Name       string `firestore:"name"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unit_price"`
	TotalPrice int64  `firestore:"total_price"`
	Position   int    `firestore:"position"`
}

func newOrderItemDocument(item domain.OrderItem, position int) orderItemDocument {
	return orderItemDocument{
		ID:         item.ID,
		OrderID:    item.OrderID,
		VariantID:  item.VariantID,
		Name:       item.Name,
		Quantity:   item.Quantity,
		UnitPrice:  item.UnitPrice,
		TotalPrice: item.TotalPrice,
		Position:   position,
	}
}

func (d orderItemDocument) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:         d.ID,
		OrderID:    d.OrderID,
		VariantID:  d.VariantID,
		Name:       d.Name,
		Quantity:   d.Quantity,
		UnitPrice:  d.UnitPrice,
		TotalPrice: d.TotalPrice,
	}
}

// externalIDDocument reserves an external id. Its creation fails when the id is taken.
type externalIDDocument struct {
	OrderID string `firestore:"order_id"`
}

type variantDocument struct {
	Name        string `firestore:"name"`
	Price       int64  `firestore:"price"`
	RetailPrice int64  `firestore:"retail_price"`
	InStock     bool   `firestore:"in_stock"`
}

type shippingRuleDocument struct {
	Price int64 `firestore:"price"`
}
