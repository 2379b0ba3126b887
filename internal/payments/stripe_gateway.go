package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const (
	defaultStripeTimeout = 10 * time.Second
	// Stripe rejects metadata values above 500 characters.
	stripeMetadataValueLimit = 500
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)

	sessions stripeSessionAPI
}

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	timeout       time.Duration
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewStripeGateway constructs the gateway. Network retries are disabled so a failed call
// surfaces to the caller instead of silently creating a second session.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}

	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		backendCfg := &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: timeout},
			MaxNetworkRetries: stripe.Int64(0),
		}
		sc := client.New(apiKey, &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		})
		sessions = sc.CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		timeout:       timeout,
		logger:        logger,
	}, nil
}

// OpenSession creates a Stripe Checkout session in payment mode.
func (g *StripeGateway) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	if len(req.LineItems) == 0 {
		return Session{}, errors.New("stripe: at least one line item is required")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for key, value := range textutil.NormalizeStringMap(req.Metadata, stripeMetadataValueLimit) {
		params.AddMetadata(key, value)
	}

	for _, item := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.VariantID != "" {
			product.Metadata = map[string]string{"variant_id": item.VariantID}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: product,
			},
		})
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return Session{}, translateStripeError("create checkout session", err)
	}
	g.logger(ctx, "payments.stripe.session_created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.Metadata[MetaOrderID],
	})
	return Session{ID: session.ID, URL: session.URL}, nil
}

// GetSession retrieves a session. It never mutates processor state.
func (g *StripeGateway) GetSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionStatus{}, ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return SessionStatus{}, translateStripeError("get checkout session", err)
	}
	return sessionStatusFromStripe(session), nil
}

// ParseEvent verifies the Stripe-Signature header and decodes checkout session events.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (Event, error) {
	if strings.TrimSpace(signature) == "" {
		return Event{}, fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	if g.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data != nil && strings.HasPrefix(out.Type, "checkout.session.") {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		status := sessionStatusFromStripe(&session)
		out.Session = &status
	}
	return out, nil
}

func sessionStatusFromStripe(session *stripe.CheckoutSession) SessionStatus {
	status := SessionStatus{
		ID:            session.ID,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
		Metadata:      session.Metadata,
	}
	if session.PaymentIntent != nil {
		status.PaymentIntentID = session.PaymentIntent.ID
	}
	return status
}

func translateStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("stripe: %s: %w", op, ErrSessionNotFound)
		}
		if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("stripe: %s: %s", op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: %s: %w: %v", op, ErrGatewayUnavailable, err)
}
