package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/money"
	"github.com/hanko-field/storefront/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads, decodes and validates a request body, writing the error response itself.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, validate *validator.Validate, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	if validate != nil {
		if err := validate.StructCtx(ctx, dst); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", validationMessage(err), http.StatusBadRequest))
			return false
		}
	}
	return true
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "request body is invalid"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		parts = append(parts, ns+" failed "+fe.Tag())
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// writeServiceError maps service sentinels onto the public error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment processor unavailable", http.StatusBadGateway))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// amount renders minor units as a JSON number in major units, e.g. 3000 -> 30.00.
func amount(currency money.Currency, minor int64) json.Number {
	return json.Number(currency.ToMajor(minor).StringFixed(currency.Scale()))
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	VariantID  string      `json:"variant_id"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	TotalPrice json.Number `json:"total_price"`
}

type orderPayload struct {
	InternalID      string             `json:"internal_id,omitempty"`
	OrderID         string             `json:"order_id"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"payment_status"`
	PaymentID       string             `json:"payment_id,omitempty"`
	Customer        customerPayload    `json:"customer"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	Currency        string             `json:"currency"`
	Subtotal        json.Number        `json:"subtotal"`
	ShippingCost    json.Number        `json:"shipping_cost"`
	Tax             json.Number        `json:"tax"`
	Total           json.Number        `json:"total"`
	IsTest          bool               `json:"is_test"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
	Items           []orderItemPayload `json:"items,omitempty"`
}

// buildOrderPayload renders an order. The internal id is only exposed to staff.
func buildOrderPayload(order domain.Order, items []domain.OrderItem, staff bool) orderPayload {
	currency, err := money.ParseCurrency(order.Currency)
	if err != nil {
		currency = money.MustCurrency("BRL")
	}
	payload := orderPayload{
		OrderID:       order.ExternalID,
		Status:        string(order.Status),
		PaymentStatus: order.PaymentStatus,
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ShippingAddress: addressPayload{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			Country:    order.ShippingAddress.Country,
			PostalCode: order.ShippingAddress.PostalCode,
			Phone:      order.ShippingAddress.Phone,
		},
		Currency:     currency.Code(),
		Subtotal:     amount(currency, order.Subtotal),
		ShippingCost: amount(currency, order.ShippingCost),
		Tax:          amount(currency, order.Tax),
		Total:        amount(currency, order.Total),
		IsTest:       order.IsTest,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	if staff {
		payload.InternalID = order.ID
	}
	if order.PaymentID != nil {
		payload.PaymentID = *order.PaymentID
	}
	if len(items) > 0 {
		payload.Items = make([]orderItemPayload, 0, len(items))
		for _, item := range items {
			payload.Items = append(payload.Items, orderItemPayload{
				VariantID:  item.VariantID,
				Name:       item.Name,
				Quantity:   item.Quantity,
				UnitPrice:  amount(currency, item.UnitPrice),
				TotalPrice: amount(currency, item.TotalPrice),
			})
		}
	}
	return payload
}

func buildOrderPayloads(orders []domain.Order, staff bool) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order, nil, staff))
	}
	return out
}

func statusCountsPayload(counts map[domain.OrderStatus]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}
