package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

const orderColumns = `id, customer_name, customer_phone, status, total_minor, created_at, updated_at, cancelled_at`

// orderSortColumns — белый список колонок для ORDER BY.
var orderSortColumns = map[string]string{
	domain.OrderSortCreatedAt:    "created_at",
	domain.OrderSortCustomerName: "lower(customer_name)",
	domain.OrderSortTotal:        "total_minor",
}

type orderLedger struct {
	q querier
}

// Create вставляет заказ и его позиции одной транзакцией.
func (r *orderLedger) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, order.CustomerName, order.CustomerPhone, string(order.Status),
			order.TotalMinor, order.CreatedAt, order.UpdatedAt, order.CancelledAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, lesson_id, units, price_minor)
				VALUES ($1,$2,$3,$4,$5)
			`, order.ID, i, item.LessonID, item.Units, item.PriceMinor); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderLedger) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// MarkCancelled переводит заказ в cancelled условным UPDATE по статусу.
func (r *orderLedger) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3,
		    cancelled_at = $3
		WHERE id = $1
		  AND status = $4
	`, id, string(domain.OrderStatusCancelled), at, string(domain.OrderStatusActive))
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("check order status: %w", err)
	}
	return domain.ErrOrderAlreadyCancelled
}

func (r *orderLedger) List(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	column, ok := orderSortColumns[query.SortBy]
	if !ok {
		column = "created_at"
	}
	// По умолчанию новые заказы первыми.
	dir := "ASC"
	if query.SortDir == domain.SortDesc || (query.SortBy == "" && query.SortDir == "") {
		dir = "DESC"
	}

	stmt := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY ` + fmt.Sprintf("%s %s, id %s", column, dir, dir)

	var (
		rows *sql.Rows
		err  error
	)
	if query.Limit > 0 {
		rows, err = r.q.QueryContext(ctx, stmt+" LIMIT $2", string(query.Status), query.Limit)
	} else {
		rows, err = r.q.QueryContext(ctx, stmt, string(query.Status))
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	for i := range orders {
		items, err := loadItems(ctx, r.q, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		cancelledAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.CustomerName, &order.CustomerPhone, &status,
		&order.TotalMinor, &order.CreatedAt, &order.UpdatedAt, &cancelledAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		order.CancelledAt = &at
	}
	return order, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT lesson_id, units, price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.LessonID, &item.Units, &item.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderLedger = (*orderLedger)(nil)
