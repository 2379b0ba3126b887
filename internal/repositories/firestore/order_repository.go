package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	ordersCollection      = "orders"
	orderItemsCollection  = "items"
	externalIDsCollection = "order_external_ids"

	maxBatchWrites = 500
)

// OrderRepository stores orders keyed by internal id. Each order reserves its external id in a
// sibling collection so the reservation and the order are created atomically.
type OrderRepository struct {
	provider    *pfirestore.Provider
	orders      *pfirestore.Collection[orderDocument]
	externalIDs *pfirestore.Collection[externalIDDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:    provider,
		orders:      pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		externalIDs: pfirestore.NewCollection[externalIDDocument](provider, externalIDsCollection),
	}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.ExternalID) == "" {
		return errors.New("order insert: id and external id are required")
	}

	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	externalRef, err := r.externalIDs.Doc(ctx, order.ExternalID)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(externalRef, externalIDDocument{OrderID: order.ID}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) >= maxBatchWrites {
		return fmt.Errorf("order insert items: %d items exceeds the write limit", len(items))
	}
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(orderRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.insert_items", "order %s not found", orderID)
			}
			return err
		}
		for i, item := range items {
			if strings.TrimSpace(item.ID) == "" {
				return fmt.Errorf("order insert items: item %d has no id", i)
			}
			item.OrderID = orderID
			ref := orderRef.Collection(orderItemsCollection).Doc(item.ID)
			if err := tx.Create(ref, newOrderItemDocument(item, i)); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("orders.insert_items", err)
}

// Delete removes the order, its items and its external id reservation. Missing orders are ignored.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		itemRefs, err := tx.Documents(orderRef.Collection(orderItemsCollection)).GetAll()
		if err != nil {
			return err
		}

		for _, item := range itemRefs {
			if err := tx.Delete(item.Ref); err != nil {
				return err
			}
		}
		if doc.ExternalID != "" {
			externalRef, err := r.externalIDs.Doc(ctx, doc.ExternalID)
			if err != nil {
				return err
			}
			if err := tx.Delete(externalRef); err != nil {
				return err
			}
		}
		return tx.Delete(orderRef)
	})
	return pfirestore.WrapError("orders.delete", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, pfirestore.NotFound("orders.find", "order %s not found", orderID)
		}
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func (r *OrderRepository) FindByExternalID(ctx context.Context, externalID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("external_id", "==", externalID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.find_external", "order %s not found", externalID)
	}
	return docs[0].toDomain(), nil
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return nil, err
	}
	iter := orderRef.Collection(orderItemsCollection).OrderBy("position", firestore.Asc).Documents(ctx)
	docs, err := pfirestore.DecodeAll[orderItemDocument](ctx, iter, "orders.list_items")
	if err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items, nil
}

func (r *OrderRepository) UpdateStatusIf(ctx context.Context, externalID string, update repositories.StatusUpdate) (domain.Order, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	externalRef, err := r.externalIDs.Doc(ctx, externalID)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		result  domain.Order
		applied bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(externalRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.update_status", "order %s not found", externalID)
			}
			return err
		}
		reservation, err := pfirestore.Decode[externalIDDocument](snap)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.Doc(ctx, reservation.OrderID)
		if err != nil {
			return err
		}
		current, err := r.getInTx(tx, orderRef)
		if err != nil {
			return err
		}
		result = current
		if !update.Allows(current) {
			return nil
		}
		result = update.Apply(current)
		applied = true
		return tx.Update(orderRef, statusUpdates(update))
	})
	if err != nil {
		return domain.Order{}, false, pfirestore.WrapError("orders.update_status", err)
	}
	return result, applied, nil
}

func (r *OrderRepository) UpdateStatusByIDs(ctx context.Context, orderIDs []string, update repositories.StatusUpdate) ([]string, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	ids := uniqueStrings(orderIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	// One write per id, so a full batch of maxBatchWrites fits in a single transaction.
	if len(ids) > maxBatchWrites {
		return nil, fmt.Errorf("order bulk status: %d ids exceeds the write limit", len(ids))
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	var written []string
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		written = written[:0]
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		updates := statusUpdates(update)
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			doc, err := pfirestore.Decode[orderDocument](snap)
			if err != nil {
				return err
			}
			if !update.Allows(doc.toDomain()) {
				continue
			}
			if err := tx.Update(snap.Ref, updates); err != nil {
				return err
			}
			written = append(written, snap.Ref.ID)
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("orders.update_status_bulk", err)
	}
	return written, nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, email string, limit, offset int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, nil
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("customer_email_lc", "==", normalized).OrderBy("created_at", firestore.Desc)
		if offset > 0 {
			q = q.Offset(offset)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// List pages through orders newest first. The customer email filter is a case-insensitive
// substring match, which Firestore cannot express, so it is applied after the query.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}
	page := domain.Page[domain.Order]{Page: max(filter.Page, 1), Limit: filter.Limit}
	offset := 0
	if page.Limit > 0 {
		offset = (page.Page - 1) * page.Limit
	}

	coll, err := r.orders.Ref(ctx)
	if err != nil {
		return page, err
	}
	base := applyListFilter(coll.Query, filter)

	needle := strings.ToLower(strings.TrimSpace(filter.CustomerEmail))
	if needle != "" {
		docs, err := pfirestore.DecodeAll[orderDocument](ctx, base.OrderBy("created_at", firestore.Desc).Documents(ctx), "orders.list")
		if err != nil {
			return page, err
		}
		matched := make([]orderDocument, 0, len(docs))
		for _, doc := range docs {
			if strings.Contains(doc.CustomerEmailLC, needle) {
				matched = append(matched, doc)
			}
		}
		page.Total = len(matched)
		page.Items = toDomainOrders(pageSlice(matched, offset, page.Limit))
		return page, nil
	}

	total, err := countQuery(ctx, base)
	if err != nil {
		return page, err
	}
	page.Total = total

	query := base.OrderBy("created_at", firestore.Desc)
	if offset > 0 {
		query = query.Offset(offset)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}
	docs, err := pfirestore.DecodeAll[orderDocument](ctx, query.Documents(ctx), "orders.list")
	if err != nil {
		return page, err
	}
	page.Items = toDomainOrders(docs)
	return page, nil
}

func (r *OrderRepository) Stats(ctx context.Context, since time.Time) (domain.OrderStats, error) {
	stats := domain.OrderStats{StatusCounts: make(map[domain.OrderStatus]int)}
	if r == nil || r.provider == nil {
		return stats, errors.New("order repository not initialised")
	}
	coll, err := r.orders.Ref(ctx)
	if err != nil {
		return stats, err
	}
	iter := coll.Where("created_at", ">=", since.UTC()).Select("status", "total", "is_test").Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return stats, pfirestore.WrapError("orders.stats", err)
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return stats, err
		}
		orderStatus := domain.OrderStatus(doc.Status)
		stats.TotalOrders++
		stats.StatusCounts[orderStatus]++
		if orderStatus.CountsAsRevenue() && !doc.IsTest {
			stats.TotalRevenue += doc.Total
		}
	}
	return stats, nil
}

func (r *OrderRepository) getInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (domain.Order, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, pfirestore.NotFound("orders.get", "order %s not found", ref.ID)
		}
		return domain.Order{}, err
	}
	doc, err := pfirestore.Decode[orderDocument](snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

func statusUpdates(update repositories.StatusUpdate) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updated_at", Value: update.UpdatedAt.UTC()},
	}
	if update.PaymentStatus != nil {
		updates = append(updates, firestore.Update{Path: "payment_status", Value: *update.PaymentStatus})
	}
	if update.PaymentID != nil {
		updates = append(updates, firestore.Update{Path: "payment_id", Value: *update.PaymentID})
	}
	return updates
}

func applyListFilter(q firestore.Query, filter repositories.OrderListFilter) firestore.Query {
	if filter.Status != nil {
		q = q.Where("status", "==", string(*filter.Status))
	}
	if filter.IsTest != nil {
		q = q.Where("is_test", "==", *filter.IsTest)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at", ">=", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at", "<=", filter.CreatedTo.UTC())
	}
	return q
}

func countQuery(ctx context.Context, q firestore.Query) (int, error) {
	result, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count", err)
	}
	raw, ok := result["total"]
	if !ok {
		return 0, nil
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("orders.count: unexpected aggregation value %T", raw)
	}
	return int(value.GetIntegerValue()), nil
}

func pageSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func toDomainOrders(docs []orderDocument) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return orders
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}
