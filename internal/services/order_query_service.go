package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
	defaultAdminLimit   = 20
	maxAdminLimit       = 100
	statsWindow         = 30 * 24 * time.Hour
)

// AdminOrderFilter narrows the staff order listing.
type AdminOrderFilter struct {
	Status        string
	CustomerEmail string
	IsTest        *bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Page          int
	Limit         int
}

// AdminOrderListing is one listing page plus dashboard stats.
type AdminOrderListing struct {
	Orders domain.Page[domain.Order]
	Stats  domain.OrderStats
}

// OrderQueryServiceDeps wires order reads.
type OrderQueryServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderQueryService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderQueryService = (*orderQueryService)(nil)

// NewOrderQueryService constructs the order read service backed by the provided repository.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &orderQueryService{
		orders: deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderQueryService) ListCustomerOrders(ctx context.Context, email string, limit, offset int) ([]domain.Order, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	offset = max(offset, 0)
	orders, err := s.orders.ListByCustomer(ctx, email, limit, offset)
	if err != nil {
		return nil, translateRepoError(err, ErrOrderNotFound)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func (s *orderQueryService) GetCustomerOrder(ctx context.Context, externalID, email string) (domain.OrderWithItems, error) {
	order, err := loadOwnedOrder(ctx, s.orders, externalID, email)
	if err != nil {
		return domain.OrderWithItems{}, err
	}
	return s.withItems(ctx, order)
}

// ListOrders returns one page of the admin listing together with stats for the last 30 days.
func (s *orderQueryService) ListOrders(ctx context.Context, filter AdminOrderFilter) (AdminOrderListing, error) {
	repoFilter := repositories.OrderListFilter{
		CustomerEmail: strings.TrimSpace(filter.CustomerEmail),
		IsTest:        filter.IsTest,
		CreatedFrom:   filter.CreatedFrom,
		CreatedTo:     filter.CreatedTo,
		Page:          max(filter.Page, 1),
		Limit:         filter.Limit,
	}
	if repoFilter.Limit <= 0 {
		repoFilter.Limit = defaultAdminLimit
	}
	repoFilter.Limit = min(repoFilter.Limit, maxAdminLimit)
	if raw := strings.TrimSpace(filter.Status); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return AdminOrderListing{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		repoFilter.Status = &status
	}
	if repoFilter.CreatedFrom != nil && repoFilter.CreatedTo != nil && repoFilter.CreatedTo.Before(*repoFilter.CreatedFrom) {
		return AdminOrderListing{}, fmt.Errorf("%w: date_to is before date_from", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return AdminOrderListing{}, translateRepoError(err, ErrOrderNotFound)
	}
	if page.Items == nil {
		page.Items = []domain.Order{}
	}
	stats, err := s.orders.Stats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		return AdminOrderListing{}, translateRepoError(err, ErrOrderNotFound)
	}
	if stats.StatusCounts == nil {
		stats.StatusCounts = map[domain.OrderStatus]int{}
	}
	return AdminOrderListing{Orders: page, Stats: stats}, nil
}

func (s *orderQueryService) GetOrderDetails(ctx context.Context, orderID string) (domain.OrderWithItems, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.OrderWithItems{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return domain.OrderWithItems{}, translateRepoError(err, ErrOrderNotFound)
	}
	return s.withItems(ctx, order)
}

func (s *orderQueryService) withItems(ctx context.Context, order domain.Order) (domain.OrderWithItems, error) {
	items, err := s.orders.ListItems(ctx, order.ID)
	if err != nil {
		return domain.OrderWithItems{}, translateRepoError(err, ErrOrderNotFound)
	}
	if items == nil {
		items = []domain.OrderItem{}
	}
	return domain.OrderWithItems{Order: order, Items: items}, nil
}
