package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/storefront/internal/repositories"
)

const defaultPriceTolerance int64 = 10

// PriceQuote is the authoritative price of one variant.
type PriceQuote struct {
	UnitPrice   int64
	InStock     bool
	DisplayName string
}

// LineRequest is one client-submitted cart line. ClientPrice is informational only.
type LineRequest struct {
	VariantID   string
	Quantity    int
	ClientPrice int64
	Name        string
}

// ResolvedLine is a cart line priced from the catalog.
type ResolvedLine struct {
	VariantID     string
	DisplayName   string
	UnitPrice     int64
	Quantity      int
	LineTotal     int64
	PriceMismatch bool
}

// PricingResolverDeps wires the catalog lookups used for pricing.
type PricingResolverDeps struct {
	Variants  repositories.VariantRepository
	Tolerance int64
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// PricingResolver replaces client prices with catalog prices.
type PricingResolver struct {
	variants  repositories.VariantRepository
	tolerance int64
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewPricingResolver constructs a PricingResolver backed by the variant repository.
func NewPricingResolver(deps PricingResolverDeps) (*PricingResolver, error) {
	if deps.Variants == nil {
		return nil, errors.New("pricing resolver: variant repository is required")
	}
	tolerance := deps.Tolerance
	if tolerance <= 0 {
		tolerance = defaultPriceTolerance
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &PricingResolver{variants: deps.Variants, tolerance: tolerance, logger: logger}, nil
}

// ResolvePrice returns the effective price of a variant: retail price when set, base price otherwise.
func (r *PricingResolver) ResolvePrice(ctx context.Context, variantID string) (PriceQuote, error) {
	id := strings.TrimSpace(variantID)
	if id == "" {
		return PriceQuote{}, fmt.Errorf("%w: variant id is required", ErrOrderInvalidInput)
	}
	variant, err := r.variants.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return PriceQuote{}, fmt.Errorf("%w %s", ErrVariantNotFound, id)
		}
		return PriceQuote{}, translateRepoError(err, ErrVariantNotFound)
	}
	return PriceQuote{
		UnitPrice:   variant.EffectivePrice(),
		InStock:     variant.InStock,
		DisplayName: strings.TrimSpace(variant.Name),
	}, nil
}

// ResolveLine prices one line. Out of stock variants fail; client price drift is only logged.
func (r *PricingResolver) ResolveLine(ctx context.Context, req LineRequest) (ResolvedLine, error) {
	if req.Quantity < 1 {
		return ResolvedLine{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}
	quote, err := r.ResolvePrice(ctx, req.VariantID)
	if err != nil {
		return ResolvedLine{}, err
	}

	name := quote.DisplayName
	if name == "" {
		name = strings.TrimSpace(req.Name)
	}
	if !quote.InStock {
		return ResolvedLine{}, fmt.Errorf("%w: %s", ErrOrderOutOfStock, name)
	}

	line := ResolvedLine{
		VariantID:   strings.TrimSpace(req.VariantID),
		DisplayName: name,
		UnitPrice:   quote.UnitPrice,
		Quantity:    req.Quantity,
		LineTotal:   quote.UnitPrice * int64(req.Quantity),
	}
	if diff := req.ClientPrice - quote.UnitPrice; diff > r.tolerance || diff < -r.tolerance {
		line.PriceMismatch = true
		r.logger(ctx, "pricing.client_price_mismatch", map[string]any{
			"variantId":     line.VariantID,
			"clientPrice":   req.ClientPrice,
			"resolvedPrice": quote.UnitPrice,
		})
	}
	return line, nil
}
