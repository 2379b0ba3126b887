package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

type repoErr struct {
	kind string
}

func (e repoErr) Error() string       { return "repo: " + e.kind }
func (e repoErr) IsNotFound() bool    { return e.kind == "not_found" }
func (e repoErr) IsConflict() bool    { return e.kind == "conflict" }
func (e repoErr) IsUnavailable() bool { return e.kind == "unavailable" }

var (
	errRepoNotFound    = repoErr{kind: "not_found"}
	errRepoConflict    = repoErr{kind: "conflict"}
	errRepoUnavailable = repoErr{kind: "unavailable"}
)

// memoryOrders is an in-memory OrderRepository. The hook fields inject failures.
type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	items  map[string][]domain.OrderItem

	insertErr      func(order domain.Order) error
	insertItemsErr error
	deleteErr      error
	updateErr      error
	statsSince     time.Time
	lastFilter     repositories.OrderListFilter
	deleted        []string
	bulkUpdates    []repositories.StatusUpdate
}

var _ repositories.OrderRepository = (*memoryOrders)(nil)

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: map[string]domain.Order{}, items: map[string][]domain.OrderItem{}}
	for _, order := range orders {
		m.orders[order.ID] = order
	}
	return m
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		if err := m.insertErr(order); err != nil {
			return err
		}
	}
	for _, existing := range m.orders {
		if existing.ExternalID == order.ExternalID {
			return errRepoConflict
		}
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrders) InsertItems(_ context.Context, orderID string, items []domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertItemsErr != nil {
		return m.insertItemsErr
	}
	if _, ok := m.orders[orderID]; !ok {
		return errRepoNotFound
	}
	m.items[orderID] = append(m.items[orderID], items...)
	return nil
}

func (m *memoryOrders) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, orderID)
	delete(m.orders, orderID)
	delete(m.items, orderID)
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return order, nil
}

func (m *memoryOrders) FindByExternalID(_ context.Context, externalID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.byExternalID(externalID)
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return order, nil
}

func (m *memoryOrders) byExternalID(externalID string) (domain.Order, bool) {
	for _, order := range m.orders {
		if order.ExternalID == externalID {
			return order, true
		}
	}
	return domain.Order{}, false
}

func (m *memoryOrders) ListItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items[orderID]), nil
}

func (m *memoryOrders) UpdateStatusIf(_ context.Context, externalID string, update repositories.StatusUpdate) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Order{}, false, m.updateErr
	}
	order, ok := m.byExternalID(externalID)
	if !ok {
		return domain.Order{}, false, errRepoNotFound
	}
	if !update.Allows(order) {
		return order, false, nil
	}
	order = update.Apply(order)
	m.orders[order.ID] = order
	return order, true, nil
}

func (m *memoryOrders) UpdateStatusByIDs(_ context.Context, orderIDs []string, update repositories.StatusUpdate) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.bulkUpdates = append(m.bulkUpdates, update)
	var written []string
	for _, id := range orderIDs {
		order, ok := m.orders[id]
		if !ok || !update.Allows(order) {
			continue
		}
		m.orders[id] = update.Apply(order)
		written = append(written, id)
	}
	return written, nil
}

func (m *memoryOrders) ListByCustomer(_ context.Context, email string, limit, offset int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if strings.EqualFold(order.Customer.Email, email) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []domain.Order
	for _, order := range m.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		out = append(out, order)
	}
	return domain.Page[domain.Order]{Items: out, Total: len(out), Page: filter.Page, Limit: filter.Limit}, nil
}

func (m *memoryOrders) Stats(_ context.Context, since time.Time) (domain.OrderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsSince = since
	stats := domain.OrderStats{StatusCounts: map[domain.OrderStatus]int{}}
	for _, order := range m.orders {
		stats.TotalOrders++
		stats.StatusCounts[order.Status]++
		if !order.IsTest && order.Status.CountsAsRevenue() {
			stats.TotalRevenue += order.Total
		}
	}
	return stats, nil
}

func (m *memoryOrders) get(t testing.TB, id string) domain.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return order
}

func (m *memoryOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type stubVariants struct {
	variants map[string]domain.Variant
	err      error
}

func (s *stubVariants) FindByID(_ context.Context, variantID string) (domain.Variant, error) {
	if s.err != nil {
		return domain.Variant{}, s.err
	}
	variant, ok := s.variants[variantID]
	if !ok {
		return domain.Variant{}, errRepoNotFound
	}
	return variant, nil
}

type stubShippingRules struct {
	rules map[string]int64
	err   error
}

func (s *stubShippingRules) FindByState(_ context.Context, state string) (domain.ShippingRule, error) {
	if s.err != nil {
		return domain.ShippingRule{}, s.err
	}
	price, ok := s.rules[state]
	if !ok {
		return domain.ShippingRule{}, errRepoNotFound
	}
	return domain.ShippingRule{StateCode: state, Price: price}, nil
}

type stubGateway struct {
	openFunc  func(ctx context.Context, req payments.SessionRequest) (payments.Session, error)
	getFunc   func(ctx context.Context, id string) (payments.SessionStatus, error)
	parseFunc func(payload []byte, signature string) (payments.Event, error)
	requests  []payments.SessionRequest
}

func (s *stubGateway) OpenSession(ctx context.Context, req payments.SessionRequest) (payments.Session, error) {
	s.requests = append(s.requests, req)
	if s.openFunc != nil {
		return s.openFunc(ctx, req)
	}
	return payments.Session{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (s *stubGateway) GetSession(ctx context.Context, id string) (payments.SessionStatus, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, id)
	}
	return payments.SessionStatus{}, payments.ErrSessionNotFound
}

func (s *stubGateway) ParseEvent(payload []byte, signature string) (payments.Event, error) {
	if s.parseFunc != nil {
		return s.parseFunc(payload, signature)
	}
	return payments.Event{}, payments.ErrSignatureInvalid
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
}

func testCatalog() *stubVariants {
	return &stubVariants{variants: map[string]domain.Variant{
		"var-a": {ID: "var-a", Name: "Caneca", Price: 1000, InStock: true},
		"var-b": {ID: "var-b", Name: "Camiseta", Price: 2000, RetailPrice: 1500, InStock: true},
		"var-c": {ID: "var-c", Name: "Poster", Price: 500, InStock: false},
	}}
}

func pendingOrder(id, externalID, email string) domain.Order {
	now := fixedClock().Add(-time.Hour)
	return domain.Order{
		ID:            id,
		ExternalID:    externalID,
		Status:        domain.OrderStatusPendingPayment,
		Customer:      domain.Customer{Name: "Ana", Email: email},
		Currency:      "BRL",
		Subtotal:      2500,
		ShippingCost:  500,
		Total:         3000,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
