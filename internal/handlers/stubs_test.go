package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubCheckoutService struct {
	placeFn func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errNotStubbed
}

type stubReconciliationService struct {
	webhookFn func(context.Context, []byte, string) (services.WebhookResult, error)
	verifyFn  func(context.Context, string) (services.VerifyResult, error)
}

func (s *stubReconciliationService) HandleWebhook(ctx context.Context, payload []byte, signature string) (services.WebhookResult, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, payload, signature)
	}
	return services.WebhookResult{}, errNotStubbed
}

func (s *stubReconciliationService) VerifySession(ctx context.Context, sessionID string) (services.VerifyResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, sessionID)
	}
	return services.VerifyResult{}, errNotStubbed
}

type stubOrderQueryService struct {
	listCustomerFn func(context.Context, string, int, int) ([]domain.Order, error)
	getCustomerFn  func(context.Context, string, string) (domain.OrderWithItems, error)
	listFn         func(context.Context, services.AdminOrderFilter) (services.AdminOrderListing, error)
	detailsFn      func(context.Context, string) (domain.OrderWithItems, error)
}

func (s *stubOrderQueryService) ListCustomerOrders(ctx context.Context, email string, limit, offset int) ([]domain.Order, error) {
	if s.listCustomerFn != nil {
		return s.listCustomerFn(ctx, email, limit, offset)
	}
	return nil, errNotStubbed
}

func (s *stubOrderQueryService) GetCustomerOrder(ctx context.Context, externalID, email string) (domain.OrderWithItems, error) {
	if s.getCustomerFn != nil {
		return s.getCustomerFn(ctx, externalID, email)
	}
	return domain.OrderWithItems{}, errNotStubbed
}

func (s *stubOrderQueryService) ListOrders(ctx context.Context, filter services.AdminOrderFilter) (services.AdminOrderListing, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return services.AdminOrderListing{}, errNotStubbed
}

func (s *stubOrderQueryService) GetOrderDetails(ctx context.Context, orderID string) (domain.OrderWithItems, error) {
	if s.detailsFn != nil {
		return s.detailsFn(ctx, orderID)
	}
	return domain.OrderWithItems{}, errNotStubbed
}

type stubOrderStatusService struct {
	cancelFn func(context.Context, string, string) (domain.Order, error)
	retryFn  func(context.Context, services.RetryPaymentCommand) (payments.Session, error)
	updateFn func(context.Context, []string, string) (services.BulkStatusResult, error)
}

func (s *stubOrderStatusService) CancelOrder(ctx context.Context, externalID, requesterEmail string) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, externalID, requesterEmail)
	}
	return domain.Order{}, errNotStubbed
}

func (s *stubOrderStatusService) RetryPayment(ctx context.Context, cmd services.RetryPaymentCommand) (payments.Session, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, cmd)
	}
	return payments.Session{}, errNotStubbed
}

func (s *stubOrderStatusService) UpdateStatus(ctx context.Context, orderIDs []string, status string) (services.BulkStatusResult, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, orderIDs, status)
	}
	return services.BulkStatusResult{}, errNotStubbed
}

type stubShippingService struct {
	quoteFn func(context.Context, string, int64) (services.ShippingQuote, error)
}

func (s *stubShippingService) Quote(ctx context.Context, state string, subtotal int64) (services.ShippingQuote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, state, subtotal)
	}
	return services.ShippingQuote{}, errNotStubbed
}

type stubSystemService struct {
	report services.SystemHealth
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealth, error) {
	return s.report, s.err
}

var (
	_ services.CheckoutService       = (*stubCheckoutService)(nil)
	_ services.ReconciliationService = (*stubReconciliationService)(nil)
	_ services.OrderQueryService     = (*stubOrderQueryService)(nil)
	_ services.OrderStatusService    = (*stubOrderStatusService)(nil)
	_ services.ShippingService       = (*stubShippingService)(nil)
	_ services.SystemService         = (*stubSystemService)(nil)
)

func customerRequest(req *http.Request, email string) *http.Request {
	ctx := auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1", Email: email, Roles: []string{auth.RoleUser}})
	return req.WithContext(ctx)
}

func staffRequest(req *http.Request) *http.Request {
	ctx := auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff-1", Email: "ops@example.com", Roles: []string{auth.RoleStaff}})
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleOrder() domain.Order {
	paymentID := "pi_123"
	created := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:         "8a1f0c2e-1111-2222-3333-444455556666",
		ExternalID: "ORD-1741953600000-ABCDE",
		Status:     domain.OrderStatusPaid,
		Customer:   domain.Customer{Name: "Ana Souza", Email: "ana@example.com"},
		ShippingAddress: domain.Address{
			Line1: "Rua A, 10", City: "São Paulo", State: "SP", Country: "BR", PostalCode: "01000-000",
		},
		Currency:      "BRL",
		Subtotal:      2500,
		ShippingCost:  500,
		Total:         3000,
		PaymentStatus: domain.PaymentStatusCompleted,
		PaymentID:     &paymentID,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
