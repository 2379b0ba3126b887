package services

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/payments"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	shippingLineName      = "Frete"
	sessionIDPlaceholder  = "{CHECKOUT_SESSION_ID}"
)

// OpenSessionCommand describes the hosted checkout to open. Amounts are minor units.
type OpenSessionCommand struct {
	Items          []LineRequest
	ShippingCost   int64
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentSessionServiceDeps wires the processor and the pricing used to build line items.
type PaymentSessionServiceDeps struct {
	Gateway  payments.Gateway
	Pricing  lineResolver
	Currency string
	Timeout  time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// PaymentSessionService opens and reads hosted checkout sessions. A nil gateway disables it.
type PaymentSessionService struct {
	gateway  payments.Gateway
	pricing  lineResolver
	currency string
	timeout  time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentSessionService constructs the session service. A nil gateway yields a service
// whose Enabled reports false.
func NewPaymentSessionService(deps PaymentSessionServiceDeps) (*PaymentSessionService, error) {
	if deps.Gateway != nil && deps.Pricing == nil {
		return nil, fmt.Errorf("payment session service: pricing resolver is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultStoreCurrency
	}
	return &PaymentSessionService{
		gateway:  deps.Gateway,
		pricing:  deps.Pricing,
		currency: currency,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Enabled reports whether a processor is configured.
func (s *PaymentSessionService) Enabled() bool {
	return s != nil && s.gateway != nil
}

// OpenSession re-prices every line from the catalog and opens a session. Shipping becomes its
// own line so the processor total matches the order total.
func (s *PaymentSessionService) OpenSession(ctx context.Context, cmd OpenSessionCommand) (payments.Session, error) {
	if !s.Enabled() {
		return payments.Session{}, fmt.Errorf("%w: processor not configured", ErrPaymentUnavailable)
	}
	if len(cmd.Items) == 0 {
		return payments.Session{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if cmd.ShippingCost < 0 {
		return payments.Session{}, fmt.Errorf("%w: shipping cost must not be negative", ErrOrderInvalidInput)
	}

	lineItems := make([]payments.LineItem, 0, len(cmd.Items)+1)
	for _, item := range cmd.Items {
		line, err := s.pricing.ResolveLine(ctx, item)
		if err != nil {
			return payments.Session{}, err
		}
		lineItems = append(lineItems, payments.LineItem{
			Name:       line.DisplayName,
			VariantID:  line.VariantID,
			UnitAmount: line.UnitPrice,
			Quantity:   int64(line.Quantity),
		})
	}
	if cmd.ShippingCost > 0 {
		lineItems = append(lineItems, payments.LineItem{Name: shippingLineName, UnitAmount: cmd.ShippingCost, Quantity: 1})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	session, err := s.gateway.OpenSession(callCtx, payments.SessionRequest{
		LineItems:      lineItems,
		Currency:       s.currency,
		CustomerEmail:  strings.TrimSpace(cmd.CustomerEmail),
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		Metadata:       maps.Clone(cmd.Metadata),
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		s.logger(ctx, "payment.session.open_failed", map[string]any{
			"orderId": cmd.Metadata[payments.MetaOrderID],
			"error":   err.Error(),
		})
		return payments.Session{}, translateGatewayError(err)
	}
	s.logger(ctx, "payment.session.opened", map[string]any{
		"orderId":   cmd.Metadata[payments.MetaOrderID],
		"sessionId": session.ID,
		"isRetry":   cmd.Metadata[payments.MetaIsRetry] == "true",
	})
	return session, nil
}

// GetSession reads a session without side effects.
func (s *PaymentSessionService) GetSession(ctx context.Context, sessionID string) (payments.SessionStatus, error) {
	if !s.Enabled() {
		return payments.SessionStatus{}, fmt.Errorf("%w: processor not configured", ErrPaymentUnavailable)
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return payments.SessionStatus{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	status, err := s.gateway.GetSession(callCtx, id)
	if err != nil {
		return payments.SessionStatus{}, translateGatewayError(err)
	}
	return status, nil
}

// ParseEvent verifies a webhook payload.
func (s *PaymentSessionService) ParseEvent(payload []byte, signature string) (payments.Event, error) {
	if !s.Enabled() {
		return payments.Event{}, fmt.Errorf("%w: processor not configured", ErrPaymentUnavailable)
	}
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return payments.Event{}, translateGatewayError(err)
	}
	return event, nil
}

// successURL appends the order id and the processor's session placeholder to base.
func successURL(base, externalID string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "order_id=" + externalID + "&session_id=" + sessionIDPlaceholder
}
