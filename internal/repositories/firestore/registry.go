package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry wires the Firestore repositories around one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	variants *VariantRepository
	rules    *ShippingRuleRepository
}

// NewRegistry builds every repository against provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	variants, err := NewVariantRepository(provider)
	if err != nil {
		return nil, err
	}
	rules, err := NewShippingRuleRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, variants: variants, rules: rules}, nil
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Variants() repositories.VariantRepository           { return r.variants }
func (r *Registry) ShippingRules() repositories.ShippingRuleRepository { return r.rules }

func (r *Registry) Ping(ctx context.Context) error {
	return r.provider.Ping(ctx)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
