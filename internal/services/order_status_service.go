package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultRetrySuccessPath = "/checkout/success"
	defaultRetryCancelPath  = "/orders"
	maxBulkStatusIDs        = 500
)

// RetryPaymentCommand asks for a fresh payment session on an unpaid order.
type RetryPaymentCommand struct {
	ExternalID     string
	RequesterEmail string
	// Origin is the storefront origin the customer returns to, e.g. https://shop.example.com.
	Origin string
}

// BulkStatusResult lists which internal ids were written and which were left untouched.
type BulkStatusResult struct {
	Status  domain.OrderStatus
	Updated []string
	Skipped []string
}

// OrderStatusServiceDeps wires the status authority.
type OrderStatusServiceDeps struct {
	Orders             repositories.OrderRepository
	Sessions           sessionOpener
	Events             OrderEventPublisher
	EnforceTransitions bool
	RetrySuccessPath   string
	RetryCancelPath    string
	Clock              func() time.Time
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderStatusService struct {
	orders      repositories.OrderRepository
	sessions    sessionOpener
	events      OrderEventPublisher
	enforce     bool
	successPath string
	cancelPath  string
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderStatusService = (*orderStatusService)(nil)

// NewOrderStatusService wires dependencies into a concrete OrderStatusService implementation.
func NewOrderStatusService(deps OrderStatusServiceDeps) (OrderStatusService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order status service: order repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("order status service: payment session service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	successPath := strings.TrimSpace(deps.RetrySuccessPath)
	if successPath == "" {
		successPath = defaultRetrySuccessPath
	}
	cancelPath := strings.TrimSpace(deps.RetryCancelPath)
	if cancelPath == "" {
		cancelPath = defaultRetryCancelPath
	}
	return &orderStatusService{
		orders:      deps.Orders,
		sessions:    deps.Sessions,
		events:      deps.Events,
		enforce:     deps.EnforceTransitions,
		successPath: successPath,
		cancelPath:  cancelPath,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CancelOrder cancels an unpaid order on behalf of its owner.
func (s *orderStatusService) CancelOrder(ctx context.Context, externalID, requesterEmail string) (domain.Order, error) {
	order, err := s.ownedOrder(ctx, externalID, requesterEmail)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return domain.Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
	}

	updated, applied, err := s.orders.UpdateStatusIf(ctx, order.ExternalID, repositories.StatusUpdate{
		Expected:  []domain.OrderStatus{domain.OrderStatusPendingPayment},
		Status:    domain.OrderStatusCanceled,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound)
	}
	if !applied {
		// Payment landed between the read and the write.
		return domain.Order{}, fmt.Errorf("%w: order is now %s", ErrOrderInvalidState, updated.Status)
	}

	s.logger(ctx, "order.canceled", map[string]any{"orderId": updated.ExternalID})
	publishOrderEvent(ctx, s.events, s.logger, newOrderEvent(domain.EventOrderStatusChanged, updated, order.Status, "customer", updated.UpdatedAt))
	return updated, nil
}

// RetryPayment opens a new session for an order that has not been paid yet.
func (s *orderStatusService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (payments.Session, error) {
	if !s.sessions.Enabled() {
		return payments.Session{}, fmt.Errorf("%w: processor not configured", ErrPaymentUnavailable)
	}
	origin, err := normaliseOrigin(cmd.Origin)
	if err != nil {
		return payments.Session{}, err
	}
	order, err := s.ownedOrder(ctx, cmd.ExternalID, cmd.RequesterEmail)
	if err != nil {
		return payments.Session{}, err
	}
	switch {
	case order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusTestOrder:
		return payments.Session{}, fmt.Errorf("%w: order in status %s cannot be paid", ErrOrderInvalidState, order.Status)
	case order.PaymentStatus == domain.PaymentStatusCompleted:
		return payments.Session{}, fmt.Errorf("%w: order already paid", ErrOrderInvalidState)
	}

	items, err := s.orders.ListItems(ctx, order.ID)
	if err != nil {
		return payments.Session{}, translateRepoError(err, ErrOrderNotFound)
	}
	if len(items) == 0 {
		return payments.Session{}, fmt.Errorf("%w: order has no items", ErrOrderInvalidState)
	}
	var itemsTotal int64
	for _, item := range items {
		itemsTotal += item.UnitPrice * int64(item.Quantity)
	}
	shipping := max(order.Total-itemsTotal, 0)

	session, err := s.sessions.OpenSession(ctx, OpenSessionCommand{
		Items:          linesFromItems(items),
		ShippingCost:   shipping,
		CustomerEmail:  order.Customer.Email,
		SuccessURL:     successURL(origin+s.successPath, order.ExternalID),
		CancelURL:      origin + s.cancelPath,
		Metadata:       sessionMetadata(order, true),
		IdempotencyKey: fmt.Sprintf("retry:%s:%d", order.ExternalID, s.now().UnixMilli()),
	})
	if err != nil {
		return payments.Session{}, err
	}
	s.logger(ctx, "order.payment.retry", map[string]any{
		"orderId":   order.ExternalID,
		"sessionId": session.ID,
	})
	return session, nil
}

// UpdateStatus is the staff override. Unless transitions are enforced any known status may be
// written over any other.
func (s *orderStatusService) UpdateStatus(ctx context.Context, orderIDs []string, status string) (BulkStatusResult, error) {
	target, ok := domain.ParseOrderStatus(status)
	if !ok {
		return BulkStatusResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return BulkStatusResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if len(ids) > maxBulkStatusIDs {
		return BulkStatusResult{}, fmt.Errorf("%w: at most %d order ids per request", ErrOrderInvalidInput, maxBulkStatusIDs)
	}

	result := BulkStatusResult{Status: target, Updated: []string{}, Skipped: []string{}}
	update := repositories.StatusUpdate{Status: target, UpdatedAt: s.now()}
	if s.enforce {
		update.Expected = domain.Predecessors(target)
		if len(update.Expected) == 0 {
			// Nothing may move into the target; every id is skipped.
			result.Skipped = ids
			s.logger(ctx, "order.status.override_rejected", map[string]any{
				"status": string(target),
				"count":  len(ids),
			})
			return result, nil
		}
	}

	written, err := s.orders.UpdateStatusByIDs(ctx, ids, update)
	if err != nil {
		return BulkStatusResult{}, translateRepoError(err, ErrOrderNotFound)
	}
	result.Updated = append(result.Updated, written...)
	for _, id := range ids {
		if !slices.Contains(written, id) {
			result.Skipped = append(result.Skipped, id)
		}
	}

	for _, id := range written {
		s.logger(ctx, "order.status.override", map[string]any{
			"orderId":  id,
			"status":   string(target),
			"enforced": s.enforce,
		})
		order, err := s.orders.FindByID(ctx, id)
		if err != nil {
			s.logger(ctx, "order.status.reload_failed", map[string]any{"orderId": id, "error": err.Error()})
			continue
		}
		publishOrderEvent(ctx, s.events, s.logger, newOrderEvent(domain.EventOrderStatusChanged, order, "", "admin", order.UpdatedAt))
	}
	return result, nil
}

// ownedOrder loads an order and hides it from anyone but the customer who placed it.
func (s *orderStatusService) ownedOrder(ctx context.Context, externalID, requesterEmail string) (domain.Order, error) {
	return loadOwnedOrder(ctx, s.orders, externalID, requesterEmail)
}

func loadOwnedOrder(ctx context.Context, orders repositories.OrderRepository, externalID, requesterEmail string) (domain.Order, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	email := strings.TrimSpace(requesterEmail)
	if email == "" {
		return domain.Order{}, fmt.Errorf("%w: requester email is required", ErrOrderForbidden)
	}
	order, err := orders.FindByExternalID(ctx, id)
	if err != nil {
		return domain.Order{}, translateRepoError(err, ErrOrderNotFound)
	}
	if !strings.EqualFold(strings.TrimSpace(order.Customer.Email), email) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, id)
	}
	return order, nil
}

func normaliseOrigin(raw string) (string, error) {
	origin := strings.TrimRight(strings.TrimSpace(raw), "/")
	if origin == "" {
		return "", fmt.Errorf("%w: origin is required", ErrOrderInvalidInput)
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid origin %q", ErrOrderInvalidInput, raw)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
