package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	variantsCollection      = "variants"
	shippingRulesCollection = "shipping_rules"
)

// VariantRepository reads catalog variants keyed by variant id.
type VariantRepository struct {
	variants *pfirestore.Collection[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{variants: pfirestore.NewCollection[variantDocument](provider, variantsCollection)}, nil
}

var _ repositories.VariantRepository = (*VariantRepository)(nil)

func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.variants == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	doc, err := r.variants.Get(ctx, variantID)
	if err != nil {
		if isNotFound(err) {
			return domain.Variant{}, pfirestore.NotFound("variants.find", "variant %s not found", variantID)
		}
		return domain.Variant{}, err
	}
	return domain.Variant{
		ID:          variantID,
		Name:        doc.Name,
		Price:       doc.Price,
		RetailPrice: doc.RetailPrice,
		InStock:     doc.InStock,
	}, nil
}

// ShippingRuleRepository reads flat shipping prices keyed by upper-case region code.
type ShippingRuleRepository struct {
	rules *pfirestore.Collection[shippingRuleDocument]
}

// NewShippingRuleRepository constructs a Firestore-backed shipping rule repository.
func NewShippingRuleRepository(provider *pfirestore.Provider) (*ShippingRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rule repository requires firestore provider")
	}
	return &ShippingRuleRepository{rules: pfirestore.NewCollection[shippingRuleDocument](provider, shippingRulesCollection)}, nil
}

var _ repositories.ShippingRuleRepository = (*ShippingRuleRepository)(nil)

func (r *ShippingRuleRepository) FindByState(ctx context.Context, stateCode string) (domain.ShippingRule, error) {
	if r == nil || r.rules == nil {
		return domain.ShippingRule{}, errors.New("shipping rule repository not initialised")
	}
	code := strings.ToUpper(strings.TrimSpace(stateCode))
	doc, err := r.rules.Get(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return domain.ShippingRule{}, pfirestore.NotFound("shipping_rules.find", "no shipping rule for %s", code)
		}
		return domain.ShippingRule{}, err
	}
	return domain.ShippingRule{StateCode: code, Price: doc.Price}, nil
}
