package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const orderColumns = `id, external_id, status,
	customer_name, customer_email, customer_phone,
	ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_country, ship_postal_code, ship_phone,
	currency, subtotal, shipping_cost, tax, total, is_test, payment_status, payment_id,
	created_at, updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository requires a connection pool")
	}
	return &OrderRepository{pool: pool}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		order.ID, order.ExternalID, string(order.Status),
		order.Customer.Name, order.Customer.Email, order.Customer.Phone,
		order.ShippingAddress.Name, order.ShippingAddress.Line1, order.ShippingAddress.Line2,
		order.ShippingAddress.City, order.ShippingAddress.State, order.ShippingAddress.Country,
		order.ShippingAddress.PostalCode, order.ShippingAddress.Phone,
		order.Currency, order.Subtotal, order.ShippingCost, order.Tax, order.Total,
		order.IsTest, order.PaymentStatus, order.PaymentID,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		batch := &pgx.Batch{}
		for i, item := range items {
			batch.Queue(`INSERT INTO order_items (id, order_id, variant_id, name, quantity, unit_price, total_price, position)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				item.ID, orderID, item.VariantID, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice, i)
		}
		results := tx.SendBatch(ctx, batch)
		for range items {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return struct{}{}, err
			}
		}
		return struct{}{}, results.Close()
	})
	if err != nil {
		err = wrapError("orders.insert_items", err)
		var repoErr *Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return notFound("orders.insert_items", "order %s not found", orderID)
		}
		return err
	}
	return nil
}

// Delete removes the order; items go with it through the foreign key cascade.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	return wrapError("orders.delete", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderID)
	}
	return order, wrapError("orders.find", err)
}

func (r *OrderRepository) FindByExternalID(ctx context.Context, externalID string) (domain.Order, error) {
	return findByExternalID(ctx, r.pool, externalID)
}

func findByExternalID(ctx context.Context, q dbtx, externalID string) (domain.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, notFound("orders.find_external", "order %s not found", externalID)
	}
	return order, wrapError("orders.find_external", err)
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, variant_id, name, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, wrapError("orders.list_items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var item domain.OrderItem
		err := row.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.Name, &item.Quantity, &item.UnitPrice, &item.TotalPrice)
		return item, err
	})
	return items, wrapError("orders.list_items", err)
}

// UpdateStatusIf performs the guarded write as one conditional UPDATE. When no row matches, a
// follow-up read tells a guard miss apart from an unknown order.
func (r *OrderRepository) UpdateStatusIf(ctx context.Context, externalID string, update repositories.StatusUpdate) (domain.Order, bool, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `UPDATE orders SET
			status = $2,
			payment_status = COALESCE($4, payment_status),
			payment_id = COALESCE($5, payment_id),
			updated_at = $6
		WHERE external_id = $1
			AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
			AND ($7 = '' OR payment_status <> $7)
		RETURNING `+orderColumns,
		externalID, string(update.Status), statusStrings(update.Expected),
		update.PaymentStatus, update.PaymentID, update.UpdatedAt.UTC(), update.UnlessPaymentStatus,
	))
	if err == nil {
		return order, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, false, wrapError("orders.update_status", err)
	}
	current, err := findByExternalID(ctx, r.pool, externalID)
	if err != nil {
		return domain.Order{}, false, err
	}
	return current, false, nil
}

func (r *OrderRepository) UpdateStatusByIDs(ctx context.Context, orderIDs []string, update repositories.StatusUpdate) ([]string, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `UPDATE orders SET
			status = $2,
			payment_status = COALESCE($4, payment_status),
			payment_id = COALESCE($5, payment_id),
			updated_at = $6
		WHERE id = ANY($1::text[])
			AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
			AND ($7 = '' OR payment_status <> $7)
		RETURNING id`,
		orderIDs, string(update.Status), statusStrings(update.Expected),
		update.PaymentStatus, update.PaymentID, update.UpdatedAt.UTC(), update.UnlessPaymentStatus,
	)
	if err != nil {
		return nil, wrapError("orders.update_status_bulk", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrapError("orders.update_status_bulk", err)
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, email string, limit, offset int) ([]domain.Order, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE lower(customer_email) = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, normalized, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, wrapError("orders.list_by_customer", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) { return scanOrder(row) })
	return orders, wrapError("orders.list_by_customer", err)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	page := domain.Page[domain.Order]{Page: max(filter.Page, 1), Limit: filter.Limit}
	where, args := listConditions(filter)

	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&page.Total); err != nil {
		return page, wrapError("orders.count", err)
	}

	offset := 0
	if page.Limit > 0 {
		offset = (page.Page - 1) * page.Limit
	}
	args = append(args, limitArg(page.Limit), offset)
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return page, wrapError("orders.list", err)
	}
	page.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) { return scanOrder(row) })
	return page, wrapError("orders.list", err)
}

func (r *OrderRepository) Stats(ctx context.Context, since time.Time) (domain.OrderStats, error) {
	stats := domain.OrderStats{StatusCounts: make(map[domain.OrderStatus]int)}
	rows, err := r.pool.Query(ctx, `SELECT status, count(*), COALESCE(sum(total) FILTER (WHERE NOT is_test), 0)
		FROM orders WHERE created_at >= $1 GROUP BY status`, since.UTC())
	if err != nil {
		return stats, wrapError("orders.stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
			sum    int64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return stats, wrapError("orders.stats", err)
		}
		orderStatus := domain.OrderStatus(status)
		stats.StatusCounts[orderStatus] = count
		stats.TotalOrders += count
		if orderStatus.CountsAsRevenue() {
			stats.TotalRevenue += sum
		}
	}
	return stats, wrapError("orders.stats", rows.Err())
}

func listConditions(filter repositories.OrderListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if needle := strings.ToLower(strings.TrimSpace(filter.CustomerEmail)); needle != "" {
		add("lower(customer_email) LIKE '%%' || $%d || '%%'", likeEscaper.Replace(needle))
	}
	if filter.IsTest != nil {
		add("is_test = $%d", *filter.IsTest)
	}
	if filter.CreatedFrom != nil {
		add("created_at >= $%d", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		add("created_at <= $%d", filter.CreatedTo.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.ExternalID, &status,
		&order.Customer.Name, &order.Customer.Email, &order.Customer.Phone,
		&order.ShippingAddress.Name, &order.ShippingAddress.Line1, &order.ShippingAddress.Line2,
		&order.ShippingAddress.City, &order.ShippingAddress.State, &order.ShippingAddress.Country,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Phone,
		&order.Currency, &order.Subtotal, &order.ShippingCost, &order.Tax, &order.Total,
		&order.IsTest, &order.PaymentStatus, &order.PaymentID,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
