package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

type VariantRepository struct {
	pool *pgxpool.Pool
}

// NewVariantRepository constructs a Postgres-backed variant repository.
func NewVariantRepository(pool *pgxpool.Pool) *VariantRepository {
	return &VariantRepository{pool: pool}
}

var _ repositories.VariantRepository = (*VariantRepository)(nil)

func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	var variant domain.Variant
	err := r.pool.QueryRow(ctx, `SELECT id, name, price, retail_price, in_stock FROM variants WHERE id = $1`, variantID).
		Scan(&variant.ID, &variant.Name, &variant.Price, &variant.RetailPrice, &variant.InStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Variant{}, notFound("variants.find", "variant %s not found", variantID)
	}
	return variant, wrapError("variants.find", err)
}

type ShippingRuleRepository struct {
	pool *pgxpool.Pool
}

// NewShippingRuleRepository constructs a Postgres-backed shipping rule repository.
func NewShippingRuleRepository(pool *pgxpool.Pool) *ShippingRuleRepository {
	return &ShippingRuleRepository{pool: pool}
}

var _ repositories.ShippingRuleRepository = (*ShippingRuleRepository)(nil)

func (r *ShippingRuleRepository) FindByState(ctx context.Context, stateCode string) (domain.ShippingRule, error) {
	code := strings.ToUpper(strings.TrimSpace(stateCode))
	rule := domain.ShippingRule{StateCode: code}
	err := r.pool.QueryRow(ctx, `SELECT price FROM shipping_rules WHERE state_code = $1`, code).Scan(&rule.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ShippingRule{}, notFound("shipping_rules.find", "no shipping rule for %s", code)
	}
	return rule, wrapError("shipping_rules.find", err)
}
