package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

// WebhookResult reports what a processor notification did.
type WebhookResult struct {
	Processed bool
	EventType string
	OrderID   string
}

// VerifyResult is returned to the customer landing on the success page.
type VerifyResult struct {
	Status  string
	OrderID string
}

// sessionReader is the subset of PaymentSessionService used for reconciliation.
type sessionReader interface {
	GetSession(ctx context.Context, sessionID string) (payments.SessionStatus, error)
	ParseEvent(payload []byte, signature string) (payments.Event, error)
}

// ReconciliationServiceDeps wires reconciliation.
type ReconciliationServiceDeps struct {
	Orders   repositories.OrderRepository
	Sessions sessionReader
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders   repositories.OrderRepository
	sessions sessionReader
	events   OrderEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ ReconciliationService = (*reconciliationService)(nil)

// NewReconciliationService wires dependencies into a concrete ReconciliationService implementation.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("reconciliation service: payment session service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &reconciliationService{
		orders:   deps.Orders,
		sessions: deps.Sessions,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleWebhook verifies the notification and applies it. Repeated deliveries converge on the
// same state because every write is guarded by the order's current status.
func (s *reconciliationService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if strings.TrimSpace(signature) == "" {
		s.logger(ctx, "reconciliation.webhook.rejected", map[string]any{"reason": "missing signature"})
		return WebhookResult{}, fmt.Errorf("%w: missing signature", ErrPaymentSignature)
	}
	event, err := s.sessions.ParseEvent(payload, signature)
	if err != nil {
		s.logger(ctx, "reconciliation.webhook.rejected", map[string]any{"error": err.Error()})
		return WebhookResult{}, err
	}

	result := WebhookResult{EventType: event.Type}
	if event.Session != nil {
		result.OrderID = event.Session.Metadata[payments.MetaOrderID]
	}

	switch event.Type {
	case payments.EventSessionCompleted:
		if event.Session == nil || !event.Session.Paid() {
			s.logger(ctx, "reconciliation.webhook.awaiting_payment", map[string]any{
				"eventId": event.ID,
				"orderId": result.OrderID,
			})
			return result, nil
		}
		result.Processed, err = s.markPaid(ctx, *event.Session, "webhook")
	case payments.EventSessionAsyncSucceeded:
		if event.Session == nil {
			return result, nil
		}
		result.Processed, err = s.markPaid(ctx, *event.Session, "webhook")
	case payments.EventSessionExpired, payments.EventSessionAsyncFailed:
		if event.Session == nil {
			return result, nil
		}
		result.Processed, err = s.markExpired(ctx, *event.Session)
	default:
		s.logger(ctx, "reconciliation.webhook.ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return result, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}
	return result, nil
}

// VerifySession applies the paid transition for a session the customer returned from.
func (s *reconciliationService) VerifySession(ctx context.Context, sessionID string) (VerifyResult, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{Status: session.PaymentStatus, OrderID: session.Metadata[payments.MetaOrderID]}
	if !session.Paid() {
		return result, nil
	}
	if _, err := s.markPaid(ctx, session, "verify"); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// markPaid reports whether the order is now (or already was) settled by this session.
func (s *reconciliationService) markPaid(ctx context.Context, session payments.SessionStatus, source string) (bool, error) {
	externalID := strings.TrimSpace(session.Metadata[payments.MetaOrderID])
	if externalID == "" {
		s.logger(ctx, "reconciliation.order_id_missing", map[string]any{"sessionId": session.ID})
		return false, nil
	}

	target := domain.OrderStatusPaid
	if session.Metadata[payments.MetaIsTest] == "true" {
		target = domain.OrderStatusTestOrder
	}
	paymentID := session.PaymentIntentID
	if paymentID == "" {
		paymentID = session.ID
	}
	completed := domain.PaymentStatusCompleted

	return s.apply(ctx, externalID, repositories.StatusUpdate{
		Expected:            []domain.OrderStatus{domain.OrderStatusPendingPayment, domain.OrderStatusTestOrder},
		UnlessPaymentStatus: domain.PaymentStatusCompleted,
		Status:              target,
		PaymentStatus:       &completed,
		PaymentID:           &paymentID,
		UpdatedAt:           s.now(),
	}, source, session.ID)
}

func (s *reconciliationService) markExpired(ctx context.Context, session payments.SessionStatus) (bool, error) {
	externalID := strings.TrimSpace(session.Metadata[payments.MetaOrderID])
	if externalID == "" {
		s.logger(ctx, "reconciliation.order_id_missing", map[string]any{"sessionId": session.ID})
		return false, nil
	}
	expired := domain.PaymentStatusExpired
	return s.apply(ctx, externalID, repositories.StatusUpdate{
		Expected:      []domain.OrderStatus{domain.OrderStatusPendingPayment},
		Status:        domain.OrderStatusCanceled,
		PaymentStatus: &expired,
		UpdatedAt:     s.now(),
	}, "webhook", session.ID)
}

func (s *reconciliationService) apply(ctx context.Context, externalID string, update repositories.StatusUpdate, source, sessionID string) (bool, error) {
	order, applied, err := s.orders.UpdateStatusIf(ctx, externalID, update)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "reconciliation.order_missing", map[string]any{
				"orderId":   externalID,
				"sessionId": sessionID,
			})
			return false, nil
		}
		return false, translateRepoError(err, ErrOrderNotFound)
	}
	if !applied {
		s.logger(ctx, "reconciliation.noop", map[string]any{
			"orderId":       externalID,
			"status":        string(order.Status),
			"paymentStatus": order.PaymentStatus,
			"target":        string(update.Status),
		})
		return true, nil
	}

	previous := previousStatus(update)
	s.logger(ctx, "reconciliation.order.updated", map[string]any{
		"orderId":   externalID,
		"status":    string(order.Status),
		"sessionId": sessionID,
		"source":    source,
	})
	publishOrderEvent(ctx, s.events, s.logger, newOrderEvent(domain.EventOrderStatusChanged, order, previous, "reconciliation."+source, order.UpdatedAt))
	return true, nil
}

// previousStatus is only known when the guard admitted a single status.
func previousStatus(update repositories.StatusUpdate) domain.OrderStatus {
	if len(update.Expected) == 1 {
		return update.Expected[0]
	}
	return ""
}
