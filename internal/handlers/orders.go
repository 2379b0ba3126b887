package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

var customerHistoryBounds = pagination.Bounds{DefaultLimit: 10, MaxLimit: 50}

// OrderHandlers exposes the signed-in customer's order history and self-service actions.
type OrderHandlers struct {
	authn        *auth.Authenticator
	queries      services.OrderQueryService
	status       services.OrderStatusService
	publicOrigin string
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithPublicOrigin pins the origin used to build payment retry return urls.
func WithPublicOrigin(origin string) OrderOption {
	return func(h *OrderHandlers) {
		h.publicOrigin = strings.TrimSpace(origin)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, queries services.OrderQueryService, status services.OrderStatusService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:   authn,
		queries: queries,
		status:  status,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:retry-payment", h.retryPayment)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type cancelOrderResponse struct {
	Success bool         `json:"success"`
	Order   orderPayload `json:"order"`
}

type retryPaymentResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	page, err := pagination.ParseOffset(r.URL.Query(), customerHistoryBounds)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orders, err := h.queries.ListCustomerOrders(ctx, identity.Email, page.Limit, page.Offset)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Orders: buildOrderPayloads(orders, false)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.queries.GetCustomerOrder(ctx, orderID, identity.Email)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(detail.Order, detail.Items, false)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.status == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.status.CancelOrder(ctx, orderID, identity.Email)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{Success: true, Order: buildOrderPayload(order, nil, false)})
}

func (h *OrderHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.status == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.status.RetryPayment(ctx, services.RetryPaymentCommand{
		ExternalID:     orderID,
		RequesterEmail: identity.Email,
		Origin:         h.originFor(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, retryPaymentResponse{CheckoutURL: session.URL})
}

// originFor prefers the configured public origin; the request Origin header is only a fallback.
func (h *OrderHandlers) originFor(r *http.Request) string {
	if h.publicOrigin != "" {
		return h.publicOrigin
	}
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		return origin
	}
	scheme := "https"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

func requireCustomer(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if strings.TrimSpace(identity.Email) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("email_required", "account has no email address", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}
