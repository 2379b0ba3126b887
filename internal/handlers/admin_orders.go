package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxAdminStatusBody = 64 * 1024
	dateOnlyLayout     = "2006-01-02"
)

var adminListBounds = pagination.Bounds{DefaultLimit: 20, MaxLimit: 100}

// AdminOrderHandlers exposes the staff console endpoints for orders.
type AdminOrderHandlers struct {
	authn    *auth.Authenticator
	queries  services.OrderQueryService
	status   services.OrderStatusService
	currency money.Currency
	validate *validator.Validate
}

// NewAdminOrderHandlers constructs admin order handlers. Revenue is rendered in currency.
func NewAdminOrderHandlers(authn *auth.Authenticator, queries services.OrderQueryService, status services.OrderStatusService, currency money.Currency) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:    authn,
		queries:  queries,
		status:   status,
		currency: currency,
		validate: newValidator(),
	}
}

// Routes registers admin order endpoints. Staff or admin role is required.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders:update-status", h.updateStatus)
}

type paginationPayload struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type statsPayload struct {
	TotalOrders  int            `json:"total_orders"`
	TotalRevenue json.Number    `json:"total_revenue"`
	StatusCounts map[string]int `json:"status_counts"`
}

type adminOrderListResponse struct {
	Orders     []orderPayload    `json:"orders"`
	Pagination paginationPayload `json:"pagination"`
	Stats      statsPayload      `json:"stats"`
}

type updateStatusRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=500,dive,required"`
	Status   string   `json:"status" validate:"required"`
}

type updateStatusResponse struct {
	Success bool     `json:"success"`
	Status  string   `json:"status"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	page, err := pagination.ParsePage(query, adminListBounds)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.AdminOrderFilter{
		Status:        strings.TrimSpace(query.Get("status")),
		CustomerEmail: strings.TrimSpace(query.Get("customer_email")),
		Page:          page.Page,
		Limit:         page.Limit,
	}
	if raw := strings.TrimSpace(query.Get("is_test")); raw != "" {
		isTest, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "is_test must be a boolean", http.StatusBadRequest))
			return
		}
		filter.IsTest = &isTest
	}
	if raw := strings.TrimSpace(query.Get("date_from")); raw != "" {
		from, err := parseDateParam(raw, false)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date_from must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.CreatedFrom = &from
	}
	if raw := strings.TrimSpace(query.Get("date_to")); raw != "" {
		to, err := parseDateParam(raw, true)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date_to must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.CreatedTo = &to
	}

	listing, err := h.queries.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, adminOrderListResponse{
		Orders: buildOrderPayloads(listing.Orders.Items, true),
		Pagination: paginationPayload{
			Page:  listing.Orders.Page,
			Limit: listing.Orders.Limit,
			Total: listing.Orders.Total,
			Pages: listing.Orders.Pages(),
		},
		Stats: statsPayload{
			TotalOrders:  listing.Stats.TotalOrders,
			TotalRevenue: amount(h.currency, listing.Stats.TotalRevenue),
			StatusCounts: statusCountsPayload(listing.Stats.StatusCounts),
		},
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	detail, err := h.queries.GetOrderDetails(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(detail.Order, detail.Items, true)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.status == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxAdminStatusBody, h.validate, &req) {
		return
	}

	result, err := h.status.UpdateStatus(ctx, req.OrderIDs, req.Status)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	skipped := result.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	writeJSONResponse(w, http.StatusOK, updateStatusResponse{
		Success: true,
		Status:  string(result.Status),
		Updated: len(result.Updated),
		Skipped: skipped,
	})
}

// parseDateParam accepts RFC3339 or a bare date. A bare upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}
