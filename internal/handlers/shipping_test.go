package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/services"
)

func TestShippingHandlersRates(t *testing.T) {
	svc := &stubShippingService{
		quoteFn: func(_ context.Context, state string, subtotal int64) (services.ShippingQuote, error) {
			if state != "sp" || subtotal != 15990 {
				t.Fatalf("unexpected quote input %s %d", state, subtotal)
			}
			return services.ShippingQuote{State: "SP", Cost: 1500}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/shipping", NewShippingHandlers(svc, money.MustCurrency("BRL")).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shipping/rates?state=sp&subtotal=159.90", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "SP" || body["shipping_cost"] != 15.0 || body["free"] != false || body["currency"] != "BRL" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestShippingHandlersRejectsBadInput(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/shipping", NewShippingHandlers(&stubShippingService{}, money.MustCurrency("BRL")).Routes)
	for _, query := range []string{"", "state=SP&subtotal=abc", "state=SP&subtotal=-1", "state=SP&subtotal=1.001"} {
		t.Run(query, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shipping/rates?"+query, nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}
