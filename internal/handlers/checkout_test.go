package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/services"
)

const validCheckoutBody = `{
	"items": [{"variant_id": "var-a", "quantity": 2, "price": 12.50, "name": "Caneca"}],
	"customer": {"name": "Ana Souza", "email": "ana@example.com"},
	"shipping_address": {"line1": "Rua A, 10", "city": "São Paulo", "state": "SP", "country": "BR", "postal_code": "01000-000"},
	"shipping_cost": 5
}`

func newCheckoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", h.Routes)
	return router
}

func TestCheckoutHandlersPlaceOrder(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPendingPayment
			return services.CheckoutResult{Order: order, SessionID: "cs_test_1", CheckoutURL: "https://checkout.stripe.test/cs_test_1"}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"),
		WithDefaultReturnURLs(ReturnURLs{Success: "https://shop.example.com/checkout/success", Cancel: "https://shop.example.com/cart"}))

	req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(validCheckoutBody))
	rr := httptest.NewRecorder()
	newCheckoutRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Items) != 1 || captured.Items[0].ClientPrice != 1250 || captured.Items[0].Quantity != 2 {
		t.Fatalf("expected minor-unit line, got %+v", captured.Items)
	}
	if captured.ShippingCost != 500 {
		t.Fatalf("expected shipping 500, got %d", captured.ShippingCost)
	}
	if captured.SuccessURL != "https://shop.example.com/checkout/success" || captured.CancelURL != "https://shop.example.com/cart" {
		t.Fatalf("expected default return urls, got %q %q", captured.SuccessURL, captured.CancelURL)
	}

	body := decodeBody(t, rr)
	if body["order_id"] != "ORD-1741953600000-ABCDE" {
		t.Fatalf("unexpected order id %v", body["order_id"])
	}
	if body["total"] != 30.0 || body["currency"] != "BRL" {
		t.Fatalf("unexpected totals %v %v", body["total"], body["currency"])
	}
	if body["checkout_url"] != "https://checkout.stripe.test/cs_test_1" || body["checkout_session_id"] != "cs_test_1" {
		t.Fatalf("unexpected session fields %v", body)
	}
}

func TestCheckoutHandlersRoundsSubMinorClientPrice(t *testing.T) {
	var called bool
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			called = true
			captured = cmd
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"))

	body := strings.Replace(validCheckoutBody, `"price": 12.50`, `"price": 12.500000000000002`, 1)
	rr := httptest.NewRecorder()
	newCheckoutRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !called || captured.Items[0].ClientPrice != 1250 {
		t.Fatalf("expected rounded client price 1250, got %+v", captured.Items)
	}
}

func TestCheckoutHandlersRejectsSubMinorShippingCost(t *testing.T) {
	var called bool
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			called = true
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"))

	body := strings.Replace(validCheckoutBody, `"shipping_cost": 5`, `"shipping_cost": 5.001`, 1)
	rr := httptest.NewRecorder()
	newCheckoutRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest || called {
		t.Fatalf("expected 400 without reaching the service, got %d called=%v", rr.Code, called)
	}
}

func TestCheckoutHandlersSignedInEmailWins(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"))

	req := customerRequest(httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(validCheckoutBody)), "member@example.com")
	rr := httptest.NewRecorder()
	newCheckoutRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if captured.Customer.Email != "member@example.com" {
		t.Fatalf("expected identity email, got %q", captured.Customer.Email)
	}
}

func TestCheckoutHandlersValidation(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			t.Fatalf("service must not be called")
			return services.CheckoutResult{}, nil
		},
	}
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"))

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"malformed json", "{", http.StatusBadRequest},
		{"no items", `{"items": [], "customer": {"name": "A", "email": "a@example.com"}}`, http.StatusBadRequest},
		{"bad email", strings.Replace(validCheckoutBody, "ana@example.com", "not-an-email", 1), http.StatusBadRequest},
		{"missing state", strings.Replace(validCheckoutBody, `"state": "SP", `, "", 1), http.StatusBadRequest},
		{"zero quantity", strings.Replace(validCheckoutBody, `"quantity": 2`, `"quantity": 0`, 1), http.StatusBadRequest},
		{"too precise price", strings.Replace(validCheckoutBody, "12.50", "12.505", 1), http.StatusBadRequest},
		{"oversized", `{"items": [` + strings.Repeat(" ", maxCheckoutRequestBody) + `]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			newCheckoutRouter(h).ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCheckoutHandlersServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: var-x", services.ErrVariantNotFound), http.StatusNotFound, "variant_not_found"},
		{fmt.Errorf("%w: var-c", services.ErrOrderOutOfStock), http.StatusConflict, "out_of_stock"},
		{services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_unavailable"},
		{services.ErrPaymentUnavailable, http.StatusBadGateway, "payment_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubCheckoutService{
				placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"))
			req := httptest.NewRequest(http.MethodPost, "/checkout/orders", bytes.NewBufferString(validCheckoutBody))
			rr := httptest.NewRecorder()
			newCheckoutRouter(h).ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestCheckoutHandlersRateLimit(t *testing.T) {
	calls := 0
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			calls++
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	h := NewCheckoutHandlers(nil, svc, nil, money.MustCurrency("BRL"),
		WithCheckoutRateLimit(2, time.Minute, func() time.Time { return now }))
	router := newCheckoutRouter(h)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(validCheckoutBody))
		req.RemoteAddr = "203.0.113.9:5123"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if calls != 2 {
		t.Fatalf("expected two service calls, got %d", calls)
	}
}

func TestCheckoutHandlersVerify(t *testing.T) {
	reconciliation := &stubReconciliationService{
		verifyFn: func(_ context.Context, sessionID string) (services.VerifyResult, error) {
			if sessionID != "cs_test_1" {
				t.Fatalf("unexpected session %s", sessionID)
			}
			return services.VerifyResult{Status: "paid", OrderID: "ORD-1"}, nil
		},
	}
	h := NewCheckoutHandlers(nil, nil, reconciliation, money.MustCurrency("BRL"))
	router := newCheckoutRouter(h)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/verify?session_id=cs_test_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "paid" || body["order_id"] != "ORD-1" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/verify", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session id, got %d", rr.Code)
	}
}
