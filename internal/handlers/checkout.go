package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes order placement and the post-payment verification endpoint.
type CheckoutHandlers struct {
	authn          *auth.Authenticator
	checkout       services.CheckoutService
	reconciliation services.ReconciliationService
	currency       money.Currency
	defaults       ReturnURLs
	idempotency    func(http.Handler) http.Handler
	limiter        *windowLimiter
	validate       *validator.Validate
}

// ReturnURLs are used when a checkout request omits its own return urls.
type ReturnURLs struct {
	Success string
	Cancel  string
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps order placement with the idempotency middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithCheckoutRateLimit caps order placement per caller. Non-positive values disable it.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// WithDefaultReturnURLs sets the fallback success and cancel urls.
func WithDefaultReturnURLs(urls ReturnURLs) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.defaults = urls
	}
}

// NewCheckoutHandlers constructs checkout handlers. Authentication is optional on checkout.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, reconciliation services.ReconciliationService, currency money.Currency, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:          authn,
		checkout:       checkout,
		reconciliation: reconciliation,
		currency:       currency,
		validate:       newValidator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	place := r
	if h.authn != nil {
		place = place.With(h.authn.OptionalFirebaseAuth())
	}
	if h.limiter != nil {
		place = place.With(h.limiter.middleware)
	}
	if h.idempotency != nil {
		place = place.With(h.idempotency)
	}
	place.Post("/orders", h.placeOrder)
	r.Get("/verify", h.verify)
}

type checkoutItemRequest struct {
	VariantID string          `json:"variant_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"min=1,max=1000"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name" validate:"max=200"`
}

type checkoutCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"max=40"`
}

type checkoutAddressRequest struct {
	Name       string `json:"name" validate:"max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=200"`
	State      string `json:"state" validate:"required,max=40"`
	Country    string `json:"country" validate:"omitempty,len=2"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Phone      string `json:"phone" validate:"max=40"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest   `json:"items" validate:"required,min=1,max=100,dive"`
	Customer        checkoutCustomerRequest `json:"customer"`
	ShippingAddress checkoutAddressRequest  `json:"shipping_address"`
	ShippingCost    decimal.Decimal         `json:"shipping_cost"`
	SuccessURL      string                  `json:"success_url" validate:"omitempty,url"`
	CancelURL       string                  `json:"cancel_url" validate:"omitempty,url"`
}

type checkoutResponse struct {
	OrderID           string      `json:"order_id"`
	Total             json.Number `json:"total"`
	Currency          string      `json:"currency"`
	CheckoutSessionID string      `json:"checkout_session_id"`
	CheckoutURL       string      `json:"checkout_url"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, h.validate, &req) {
		return
	}

	cmd, err := h.toCommand(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	// A signed-in customer always orders under their own email so the order shows in their history.
	if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.Email) != "" {
		cmd.Customer.Email = strings.TrimSpace(identity.Email)
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	currency := h.currency
	if parsed, err := money.ParseCurrency(result.Order.Currency); err == nil {
		currency = parsed
	}
	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		OrderID:           result.Order.ExternalID,
		Total:             amount(currency, result.Order.Total),
		Currency:          currency.Code(),
		CheckoutSessionID: result.SessionID,
		CheckoutURL:       result.CheckoutURL,
	})
}

func (h *CheckoutHandlers) toCommand(req checkoutRequest) (services.CheckoutCommand, error) {
	shipping, err := h.currency.ToMinor(req.ShippingCost)
	if err != nil {
		return services.CheckoutCommand{}, err
	}
	items := make([]services.LineRequest, 0, len(req.Items))
	for _, item := range req.Items {
		// Client prices are informational; the resolver flags drift.
		price, err := h.currency.ToMinorRounded(item.Price)
		if err != nil {
			return services.CheckoutCommand{}, err
		}
		items = append(items, services.LineRequest{
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			ClientPrice: price,
			Name:        item.Name,
		})
	}
	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.defaults.Success
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.defaults.Cancel
	}
	return services.CheckoutCommand{
		Customer: domain.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		ShippingAddress: domain.Address{
			Name:       req.ShippingAddress.Name,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			Country:    req.ShippingAddress.Country,
			PostalCode: req.ShippingAddress.PostalCode,
			Phone:      req.ShippingAddress.Phone,
		},
		Items:        items,
		ShippingCost: shipping,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
	}, nil
}

func (h *CheckoutHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment verification unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}
	result, err := h.reconciliation.VerifySession(ctx, sessionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyResponse{Status: result.Status, OrderID: result.OrderID})
}
