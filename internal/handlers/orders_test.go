package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/services"
)

func newOrdersRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", h.Routes)
	return router
}

func TestOrderHandlersListOrders(t *testing.T) {
	queries := &stubOrderQueryService{
		listCustomerFn: func(_ context.Context, email string, limit, offset int) ([]domain.Order, error) {
			if email != "ana@example.com" {
				t.Fatalf("unexpected email %s", email)
			}
			if limit != 5 || offset != 10 {
				t.Fatalf("unexpected paging limit=%d offset=%d", limit, offset)
			}
			return []domain.Order{sampleOrder()}, nil
		},
	}
	h := NewOrderHandlers(nil, queries, nil)

	req := customerRequest(httptest.NewRequest(http.MethodGet, "/orders?limit=5&offset=10", nil), "ana@example.com")
	rr := httptest.NewRecorder()
	newOrdersRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	orders, ok := body["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected one order, got %v", body["orders"])
	}
	first := orders[0].(map[string]any)
	if first["order_id"] != "ORD-1741953600000-ABCDE" || first["total"] != 30.0 {
		t.Fatalf("unexpected order payload %v", first)
	}
	if _, exposed := first["internal_id"]; exposed {
		t.Fatalf("internal id must not be exposed to customers")
	}
}

func TestOrderHandlersListOrdersRejectsBadPaging(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderQueryService{}, nil)
	req := customerRequest(httptest.NewRequest(http.MethodGet, "/orders?limit=abc", nil), "ana@example.com")
	rr := httptest.NewRecorder()
	newOrdersRouter(h).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	h := NewOrderHandlers(nil, &stubOrderQueryService{}, &stubOrderStatusService{})
	rr := httptest.NewRecorder()
	newOrdersRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	queries := &stubOrderQueryService{
		getCustomerFn: func(_ context.Context, externalID, email string) (domain.OrderWithItems, error) {
			if externalID == "ORD-MINE" {
				return domain.OrderWithItems{
					Order: sampleOrder(),
					Items: []domain.OrderItem{{VariantID: "var-a", Name: "Caneca", Quantity: 2, UnitPrice: 1250, TotalPrice: 2500}},
				}, nil
			}
			return domain.OrderWithItems{}, services.ErrOrderForbidden
		},
	}
	h := NewOrderHandlers(nil, queries, nil)
	router := newOrdersRouter(h)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(httptest.NewRequest(http.MethodGet, "/orders/ORD-MINE", nil), "ana@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	items := order["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["unit_price"] != 12.5 {
		t.Fatalf("unexpected items %v", items)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(httptest.NewRequest(http.MethodGet, "/orders/ORD-OTHER", nil), "ana@example.com"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign order, got %d", rr.Code)
	}
}

func TestOrderHandlersCancel(t *testing.T) {
	status := &stubOrderStatusService{
		cancelFn: func(_ context.Context, externalID, email string) (domain.Order, error) {
			if externalID == "ORD-PAID" {
				return domain.Order{}, services.ErrOrderInvalidState
			}
			order := sampleOrder()
			order.ExternalID = externalID
			order.Status = domain.OrderStatusCanceled
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, status)
	router := newOrdersRouter(h)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:cancel", nil), "ana@example.com"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("expected success flag, got %v", body)
	}
	if got := body["order"].(map[string]any)["status"]; got != string(domain.OrderStatusCanceled) {
		t.Fatalf("expected canceled status, got %v", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(httptest.NewRequest(http.MethodPost, "/orders/ORD-PAID:cancel", nil), "ana@example.com"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestOrderHandlersRetryPaymentUsesPublicOrigin(t *testing.T) {
	var captured services.RetryPaymentCommand
	status := &stubOrderStatusService{
		retryFn: func(_ context.Context, cmd services.RetryPaymentCommand) (payments.Session, error) {
			captured = cmd
			return payments.Session{ID: "cs_retry", URL: "https://checkout.stripe.test/cs_retry"}, nil
		},
	}
	h := NewOrderHandlers(nil, nil, status, WithPublicOrigin("https://shop.example.com"))

	req := customerRequest(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:retry-payment", nil), "ana@example.com")
	req.Header.Set("Origin", "https://evil.example.net")
	rr := httptest.NewRecorder()
	newOrdersRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Origin != "https://shop.example.com" || captured.ExternalID != "ORD-1" || captured.RequesterEmail != "ana@example.com" {
		t.Fatalf("unexpected retry command %+v", captured)
	}
	if decodeBody(t, rr)["checkout_url"] != "https://checkout.stripe.test/cs_retry" {
		t.Fatalf("expected checkout url in response")
	}
}

func TestOrderHandlersRetryPaymentFallsBackToRequestOrigin(t *testing.T) {
	var captured services.RetryPaymentCommand
	status := &stubOrderStatusService{
		retryFn: func(_ context.Context, cmd services.RetryPaymentCommand) (payments.Session, error) {
			captured = cmd
			return payments.Session{}, services.ErrPaymentUnavailable
		},
	}
	h := NewOrderHandlers(nil, nil, status)

	req := customerRequest(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:retry-payment", nil), "ana@example.com")
	req.Header.Set("Origin", "https://shop.example.com")
	rr := httptest.NewRecorder()
	newOrdersRouter(h).ServeHTTP(rr, req)

	if captured.Origin != "https://shop.example.com" {
		t.Fatalf("expected request origin, got %q", captured.Origin)
	}
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}
