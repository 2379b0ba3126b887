package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry wires the PostgreSQL repositories around one pool. Closing the registry closes the pool.
type Registry struct {
	pool     *pgxpool.Pool
	orders   *OrderRepository
	variants *VariantRepository
	rules    *ShippingRuleRepository
}

// NewRegistry builds every Postgres repository over a shared pool.
func NewRegistry(pool *pgxpool.Pool) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry requires a connection pool")
	}
	orders, err := NewOrderRepository(pool)
	if err != nil {
		return nil, err
	}
	return &Registry{
		pool:     pool,
		orders:   orders,
		variants: NewVariantRepository(pool),
		rules:    NewShippingRuleRepository(pool),
	}, nil
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Variants() repositories.VariantRepository           { return r.variants }
func (r *Registry) ShippingRules() repositories.ShippingRuleRepository { return r.rules }

func (r *Registry) Ping(ctx context.Context) error {
	return wrapError("ping", r.pool.Ping(ctx))
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}
