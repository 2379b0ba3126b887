package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/storefront/internal/repositories"
)

// fallbackShippingState holds the rule used for regions without their own entry.
const fallbackShippingState = "XX"

// ShippingQuote is the flat rate for one destination.
type ShippingQuote struct {
	State string
	Cost  int64
	Free  bool
}

// ShippingServiceDeps wires shipping quotes. A zero FreeThreshold disables free shipping.
type ShippingServiceDeps struct {
	Rules         repositories.ShippingRuleRepository
	FreeThreshold int64
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	rules         repositories.ShippingRuleRepository
	freeThreshold int64
	logger        func(ctx context.Context, event string, fields map[string]any)
}

var _ ShippingService = (*shippingService)(nil)

// NewShippingService constructs a ShippingService over the stored shipping rules.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Rules == nil {
		return nil, errors.New("shipping service: shipping rule repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &shippingService{rules: deps.Rules, freeThreshold: deps.FreeThreshold, logger: logger}, nil
}

// Quote looks up the state's rule, then the fallback rule, and charges nothing when neither exists.
func (s *shippingService) Quote(ctx context.Context, stateCode string, subtotal int64) (ShippingQuote, error) {
	state := strings.ToUpper(strings.TrimSpace(stateCode))
	if state == "" {
		return ShippingQuote{}, fmt.Errorf("%w: state is required", ErrOrderInvalidInput)
	}
	if subtotal < 0 {
		return ShippingQuote{}, fmt.Errorf("%w: subtotal must not be negative", ErrOrderInvalidInput)
	}
	quote := ShippingQuote{State: state}
	if s.freeThreshold > 0 && subtotal >= s.freeThreshold {
		quote.Free = true
		return quote, nil
	}

	for _, code := range []string{state, fallbackShippingState} {
		rule, err := s.rules.FindByState(ctx, code)
		if err == nil {
			quote.Cost = rule.Price
			return quote, nil
		}
		if !isRepoNotFound(err) {
			return ShippingQuote{}, translateRepoError(err, ErrOrderNotFound)
		}
	}
	s.logger(ctx, "shipping.rule_missing", map[string]any{"state": state})
	return quote, nil
}
