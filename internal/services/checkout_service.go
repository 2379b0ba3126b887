package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
)

// CheckoutCommand is a customer checkout request with amounts already in minor units.
type CheckoutCommand struct {
	Customer        domain.Customer
	ShippingAddress domain.Address
	Items           []LineRequest
	ShippingCost    int64
	SuccessURL      string
	CancelURL       string
}

// CheckoutResult carries the created order and, when a processor is configured, its session.
type CheckoutResult struct {
	Order       domain.Order
	Items       []domain.OrderItem
	SessionID   string
	CheckoutURL string
}

// CheckoutServiceDeps wires checkout.
type CheckoutServiceDeps struct {
	Orders   orderCreator
	Sessions sessionOpener
	TestMode bool
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders   orderCreator
	sessions sessionOpener
	testMode bool
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order builder is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: payment session service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &checkoutService{orders: deps.Orders, sessions: deps.Sessions, testMode: deps.TestMode, logger: logger}, nil
}

// PlaceOrder creates the order first and only then opens the payment session. When the session
// cannot be opened the order stays pending so the customer can retry payment from their history.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if s.sessions.Enabled() && (strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "") {
		return CheckoutResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrOrderInvalidInput)
	}

	created, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		Customer:        cmd.Customer,
		ShippingAddress: cmd.ShippingAddress,
		Items:           cmd.Items,
		IsTest:          s.testMode,
		ShippingCost:    cmd.ShippingCost,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	result := CheckoutResult{Order: created.Order, Items: created.Items}
	if !s.sessions.Enabled() {
		s.logger(ctx, "checkout.session.skipped", map[string]any{"orderId": created.Order.ExternalID})
		return result, nil
	}

	order := created.Order
	session, err := s.sessions.OpenSession(ctx, OpenSessionCommand{
		Items:          linesFromItems(created.Items),
		ShippingCost:   order.ShippingCost,
		CustomerEmail:  order.Customer.Email,
		SuccessURL:     successURL(strings.TrimSpace(cmd.SuccessURL), order.ExternalID),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		Metadata:       sessionMetadata(order, false),
		IdempotencyKey: "checkout:" + order.ExternalID,
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"orderId": order.ExternalID,
			"error":   err.Error(),
		})
		return CheckoutResult{}, err
	}
	result.SessionID = session.ID
	result.CheckoutURL = session.URL
	return result, nil
}

func sessionMetadata(order domain.Order, retry bool) map[string]string {
	meta := map[string]string{
		payments.MetaOrderID:       order.ExternalID,
		payments.MetaIsTest:        strconv.FormatBool(order.IsTest),
		payments.MetaCustomerName:  order.Customer.Name,
		payments.MetaCustomerEmail: order.Customer.Email,
		payments.MetaTotalAmount:   strconv.FormatInt(order.Total, 10),
	}
	if retry {
		meta[payments.MetaIsRetry] = "true"
	}
	return meta
}

// linesFromItems rebuilds line requests from stored items so the session is priced from the catalog again.
func linesFromItems(items []domain.OrderItem) []LineRequest {
	lines := make([]LineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, LineRequest{
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			ClientPrice: item.UnitPrice,
			Name:        item.Name,
		})
	}
	return lines
}
