package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	externalIDAttempts   = 3
	externalIDSuffixLen  = 5
	externalIDAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxOrderLines        = 100
	maxFreeTextRunes     = 200
	defaultStoreCurrency = "BRL"
	defaultCountry       = "BR"
)

// CreateOrderCommand carries a validated checkout request. ShippingCost is in minor units.
type CreateOrderCommand struct {
	Customer        domain.Customer
	ShippingAddress domain.Address
	Items           []LineRequest
	IsTest          bool
	ShippingCost    int64
}

// CreatedOrder is the persisted order with its items.
type CreatedOrder struct {
	Order domain.Order
	Items []domain.OrderItem
}

// OrderBuilderDeps wires the collaborators used to create orders.
type OrderBuilderDeps struct {
	Orders   repositories.OrderRepository
	Pricing  lineResolver
	Events   OrderEventPublisher
	Currency string
	Clock    func() time.Time
	IDs      func() string
	Suffix   func() (string, error)
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// OrderBuilder turns a checkout request into a persisted order. It never talks to the processor.
type OrderBuilder struct {
	orders   repositories.OrderRepository
	pricing  lineResolver
	events   OrderEventPublisher
	currency string
	now      func() time.Time
	newID    func() string
	suffix   func() (string, error)
	logger   func(ctx context.Context, event string, fields map[string]any)
	policy   *bluemonday.Policy
}

// NewOrderBuilder constructs an OrderBuilder validating required dependencies.
// Ids default to ulid and the clock to time.Now.
func NewOrderBuilder(deps OrderBuilderDeps) (*OrderBuilder, error) {
	if deps.Orders == nil {
		return nil, errors.New("order builder: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order builder: pricing resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDs
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	suffix := deps.Suffix
	if suffix == nil {
		suffix = randomSuffix
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultStoreCurrency
	}
	return &OrderBuilder{
		orders:   deps.Orders,
		pricing:  deps.Pricing,
		events:   deps.Events,
		currency: currency,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		suffix: suffix,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder prices every line, then writes the order and its items. A failed item write
// deletes the order again so callers never observe an order without items.
func (b *OrderBuilder) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreatedOrder, error) {
	cmd = b.sanitizeCommand(cmd)
	if err := validateCreateOrder(cmd); err != nil {
		return CreatedOrder{}, err
	}

	lines := make([]ResolvedLine, 0, len(cmd.Items))
	var subtotal int64
	for _, item := range cmd.Items {
		line, err := b.pricing.ResolveLine(ctx, item)
		if err != nil {
			return CreatedOrder{}, err
		}
		lines = append(lines, line)
		subtotal += line.LineTotal
	}

	now := b.now()
	status := domain.OrderStatusPendingPayment
	if cmd.IsTest {
		status = domain.OrderStatusTestOrder
	}
	order := domain.Order{
		ID:              b.newID(),
		Status:          status,
		Customer:        cmd.Customer,
		ShippingAddress: cmd.ShippingAddress,
		Currency:        b.currency,
		Subtotal:        subtotal,
		ShippingCost:    cmd.ShippingCost,
		Tax:             0,
		Total:           subtotal + cmd.ShippingCost,
		IsTest:          cmd.IsTest,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	order, err := b.insertWithFreshExternalID(ctx, order)
	if err != nil {
		return CreatedOrder{}, err
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ID:         b.newID(),
			OrderID:    order.ID,
			VariantID:  line.VariantID,
			Name:       line.DisplayName,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.LineTotal,
		})
	}
	if err := b.orders.InsertItems(ctx, order.ID, items); err != nil {
		return CreatedOrder{}, b.compensate(ctx, order, err)
	}

	b.logger(ctx, "checkout.order.created", map[string]any{
		"orderId":    order.ExternalID,
		"total":      order.Total,
		"itemCount":  len(items),
		"isTest":     order.IsTest,
		"mismatches": countMismatches(lines),
	})
	publishOrderEvent(ctx, b.events, b.logger, newOrderEvent(domain.EventOrderCreated, order, "", "checkout", order.CreatedAt))
	return CreatedOrder{Order: order, Items: items}, nil
}

func (b *OrderBuilder) insertWithFreshExternalID(ctx context.Context, order domain.Order) (domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= externalIDAttempts; attempt++ {
		suffix, err := b.suffix()
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: external id: %w", ErrOrderUnavailable, err)
		}
		order.ExternalID = fmt.Sprintf("ORD-%d-%s", order.CreatedAt.UnixMilli(), suffix)

		err = b.orders.Insert(ctx, order)
		if err == nil {
			return order, nil
		}
		if !isRepoConflict(err) {
			return domain.Order{}, translateRepoError(err, ErrOrderNotFound)
		}
		lastErr = err
		b.logger(ctx, "checkout.order.external_id_collision", map[string]any{
			"externalId": order.ExternalID,
			"attempt":    attempt,
		})
	}
	return domain.Order{}, fmt.Errorf("%w: external id collisions: %w", ErrOrderUnavailable, lastErr)
}

func (b *OrderBuilder) compensate(ctx context.Context, order domain.Order, cause error) error {
	err := fmt.Errorf("%w: insert items: %w", ErrOrderUnavailable, cause)
	// The request context may already be done; the delete must still run.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if delErr := b.orders.Delete(cleanupCtx, order.ID); delErr != nil {
		b.logger(ctx, "checkout.order.compensation_failed", map[string]any{
			"orderId": order.ExternalID,
			"error":   delErr.Error(),
		})
		return errors.Join(err, fmt.Errorf("compensating delete: %w", delErr))
	}
	b.logger(ctx, "checkout.order.compensated", map[string]any{
		"orderId": order.ExternalID,
		"error":   cause.Error(),
	})
	return err
}

func (b *OrderBuilder) sanitizeCommand(cmd CreateOrderCommand) CreateOrderCommand {
	clean := func(value string) string {
		return textutil.Truncate(strings.TrimSpace(html.UnescapeString(b.policy.Sanitize(value))), maxFreeTextRunes)
	}
	cmd.Customer = domain.Customer{
		Name:  clean(cmd.Customer.Name),
		Email: strings.TrimSpace(cmd.Customer.Email),
		Phone: clean(cmd.Customer.Phone),
	}
	addr := cmd.ShippingAddress
	cmd.ShippingAddress = domain.Address{
		Name:       clean(addr.Name),
		Line1:      clean(addr.Line1),
		Line2:      clean(addr.Line2),
		City:       clean(addr.City),
		State:      strings.ToUpper(clean(addr.State)),
		Country:    strings.ToUpper(clean(addr.Country)),
		PostalCode: clean(addr.PostalCode),
		Phone:      clean(addr.Phone),
	}
	if cmd.ShippingAddress.Country == "" {
		cmd.ShippingAddress.Country = defaultCountry
	}
	items := make([]LineRequest, len(cmd.Items))
	for i, item := range cmd.Items {
		item.Name = clean(item.Name)
		item.VariantID = strings.TrimSpace(item.VariantID)
		items[i] = item
	}
	cmd.Items = items
	return cmd
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	switch {
	case len(cmd.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	case len(cmd.Items) > maxOrderLines:
		return fmt.Errorf("%w: too many items", ErrOrderInvalidInput)
	case cmd.Customer.Name == "" || cmd.Customer.Email == "":
		return fmt.Errorf("%w: customer name and email are required", ErrOrderInvalidInput)
	case cmd.ShippingAddress.Line1 == "" || cmd.ShippingAddress.City == "" ||
		cmd.ShippingAddress.State == "" || cmd.ShippingAddress.PostalCode == "":
		return fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	case cmd.ShippingCost < 0:
		return fmt.Errorf("%w: shipping cost must not be negative", ErrOrderInvalidInput)
	}
	return nil
}

func countMismatches(lines []ResolvedLine) int {
	n := 0
	for _, line := range lines {
		if line.PriceMismatch {
			n++
		}
	}
	return n
}

func randomSuffix() (string, error) {
	buf := make([]byte, externalIDSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = externalIDAlphabet[int(b)%len(externalIDAlphabet)]
	}
	return string(buf), nil
}
