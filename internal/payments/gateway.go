// Package payments talks to the hosted-checkout payment processor.
package payments

import (
	"context"
	"errors"
)

var (
	// ErrSignatureInvalid is returned when a webhook payload fails signature verification.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
	// ErrSessionNotFound is returned when the processor does not know the session id.
	ErrSessionNotFound = errors.New("payments: checkout session not found")
	// ErrGatewayUnavailable wraps transport and processor-side failures.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// Metadata keys attached to every checkout session.
const (
	MetaOrderID       = "order_id"
	MetaIsTest        = "is_test"
	MetaIsRetry       = "is_retry"
	MetaCustomerName  = "customer_name"
	MetaCustomerEmail = "customer_email"
	MetaTotalAmount   = "total_amount"
)

// Processor payment states reported for a session.
const (
	PaymentStatusPaid          = "paid"
	PaymentStatusUnpaid        = "unpaid"
	PaymentStatusNoPaymentReqd = "no_payment_required"
)

// Event types the reconciliation path acts on.
const (
	EventSessionCompleted      = "checkout.session.completed"
	EventSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventSessionAsyncFailed    = "checkout.session.async_payment_failed"
	EventSessionExpired        = "checkout.session.expired"
)

// LineItem is one priced line on the hosted checkout page.
type LineItem struct {
	Name       string
	VariantID  string
	UnitAmount int64
	Quantity   int64
}

// SessionRequest opens a hosted checkout session.
type SessionRequest struct {
	LineItems      []LineItem
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// Session is the handle returned to the customer.
type Session struct {
	ID  string
	URL string
}

// SessionStatus is the processor's view of a session.
type SessionStatus struct {
	ID              string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        map[string]string
}

// Paid reports whether the processor considers the session paid.
func (s SessionStatus) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

// Event is a verified webhook notification.
type Event struct {
	ID      string
	Type    string
	Session *SessionStatus
}

// Gateway abstracts the payment processor.
type Gateway interface {
	OpenSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSession(ctx context.Context, sessionID string) (SessionStatus, error)
	ParseEvent(payload []byte, signature string) (Event, error)
}
