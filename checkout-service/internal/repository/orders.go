package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/google/uuid"
)

type OrderRepository interface {
	GetOrderByCorrelationID(ctx context.Context, correlationID string) (*d.Order, error)
	InsertPendingOrder(ctx context.Context, order *d.Order) error
	CompleteOrder(ctx context.Context, correlationID string, eventType string, payload []byte) (bool, error)
	ListStuckPendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]*d.Order, error)
}

func (r *Repository) GetOrderByCorrelationID(ctx context.Context, correlationID string) (*d.Order, error) {
	query := `SELECT id, correlation_id, account_id, email, total_amount, currency, status, shipping_address, created_at, updated_at
		FROM orders WHERE correlation_id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := r.orderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return order, nil
}

// InsertPendingOrder writes the order header and its lines in one transaction.
// A second order for the same correlation id fails with ErrDuplicateCorrelation.
func (r *Repository) InsertPendingOrder(ctx context.Context, order *d.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	query := `INSERT INTO orders (id, correlation_id, account_id, email, total_amount, currency, status, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		order.ID,
		order.CorrelationID,
		order.AccountID,
		order.Email,
		order.TotalAmount,
		order.Currency,
		order.Status,
		address,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrDuplicateCorrelation
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (order_id, line_no, product_id, size, color, quantity, unit_price_at_purchase)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, lineQuery,
			order.ID, i+1, line.ProductID, line.Size, line.Color, line.Quantity, line.UnitPriceAtPurchase)
		if err != nil {
			return fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

// CompleteOrder flips a pending order to completed and records the outbox
// event in the same transaction. It returns false when the order was already
// terminal, in which case no event is written.
func (r *Repository) CompleteOrder(ctx context.Context, correlationID string, eventType string, payload []byte) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = 'completed', updated_at = NOW() WHERE correlation_id = $1 AND status = 'pending'`,
		correlationID)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		uuid.New(), correlationID, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit order completion: %w", err)
	}
	return true, nil
}

func (r *Repository) ListStuckPendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]*d.Order, error) {
	query := `SELECT id, correlation_id, account_id, email, total_amount, currency, status, shipping_address, created_at, updated_at
		FROM orders
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck orders: %w", err)
	}
	defer rows.Close()

	var orders []*d.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *Repository) orderLines(ctx context.Context, orderID uuid.UUID) ([]d.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, size, color, quantity, unit_price_at_purchase FROM order_lines WHERE order_id = $1 ORDER BY line_no`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []d.OrderLine
	for rows.Next() {
		var l d.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Size, &l.Color, &l.Quantity, &l.UnitPriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*d.Order, error) {
	var (
		order   d.Order
		address []byte
	)
	err := s.Scan(
		&order.ID,
		&order.CorrelationID,
		&order.AccountID,
		&order.Email,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&address,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	return &order, nil
}
