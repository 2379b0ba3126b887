package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxWebhookBody        = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// PaymentWebhookHandlers receives payment processor notifications.
type PaymentWebhookHandlers struct {
	reconciliation services.ReconciliationService
}

// NewPaymentWebhookHandlers constructs webhook handlers backed by the reconciliation service.
func NewPaymentWebhookHandlers(reconciliation services.ReconciliationService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{reconciliation: reconciliation}
}

// Routes registers webhook endpoints. The group must not require end-user auth.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripe)
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	EventType string `json:"event_type,omitempty"`
}

func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	// The signature covers the exact bytes, so the body is never re-encoded.
	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))

	result, err := h.reconciliation.HandleWebhook(ctx, payload, signature)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		Processed: result.Processed,
		EventType: result.EventType,
	})
}
