package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/services"
)

// ShippingHandlers quotes shipping for the storefront cart page.
type ShippingHandlers struct {
	shipping services.ShippingService
	currency money.Currency
}

// NewShippingHandlers constructs shipping handlers.
func NewShippingHandlers(shipping services.ShippingService, currency money.Currency) *ShippingHandlers {
	return &ShippingHandlers{shipping: shipping, currency: currency}
}

// Routes registers public shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/rates", h.rates)
}

type shippingRateResponse struct {
	State        string      `json:"state"`
	ShippingCost json.Number `json:"shipping_cost"`
	Free         bool        `json:"free"`
	Currency     string      `json:"currency"`
}

func (h *ShippingHandlers) rates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	state := strings.TrimSpace(query.Get("state"))
	if state == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "state is required", http.StatusBadRequest))
		return
	}
	var subtotal int64
	if raw := strings.TrimSpace(query.Get("subtotal")); raw != "" {
		parsed, err := h.currency.ParseMinor(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must be a non-negative amount", http.StatusBadRequest))
			return
		}
		subtotal = parsed
	}

	quote, err := h.shipping.Quote(ctx, state, subtotal)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, shippingRateResponse{
		State:        quote.State,
		ShippingCost: amount(h.currency, quote.Cost),
		Free:         quote.Free,
		Currency:     h.currency.Code(),
	})
}
