package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/order-janitor/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, code, state, total, COALESCE(aggregate_order_id, ''), created_at, updated_at
	FROM orders
	WHERE id = $1`

	findStaleSQL = `SELECT id, code, state, total, COALESCE(aggregate_order_id, ''), created_at, updated_at
	FROM orders
	WHERE state = ANY($1) AND updated_at < $2
	ORDER BY updated_at
	OFFSET $3 LIMIT $4`

	setStateSQL = `UPDATE orders SET state = $2, updated_at = $3 WHERE id = $1`

	loadLinesSQL = `SELECT id, order_id, product_id, quantity, unit_price
	FROM order_lines
	WHERE order_id = ANY($1)
	ORDER BY id`

	loadPaymentsSQL = `SELECT p.id, p.order_id, p.method, p.state, p.amount,
		COALESCE(r.id, ''), COALESCE(r.payment_id, ''), COALESCE(r.amount, 0), COALESCE(r.reason, '')
	FROM payments p
	LEFT JOIN refunds r ON r.payment_id = p.id
	WHERE p.order_id = ANY($1)
	ORDER BY p.id, r.id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID loads a full order aggregate (lines, payments, refunds).
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, getOrderSQL, id)

	var o order.Order
	err := row.Scan(&o.ID, &o.Code, &o.State, &o.Total, &o.AggregateOrderID, &o.CreatedAt, &o.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.loadLines(ctx, orders); err != nil {
		return nil, err
	}
	if err := r.loadPayments(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// FindStalePage returns one page of orders matching the stale filter,
// including their payments and refunds so transition rules can inspect them.
func (r *OrderRepository) FindStalePage(ctx context.Context, f order.StaleFilter) ([]order.Order, error) {
	states := make([]string, len(f.States))
	for i, s := range f.States {
		states[i] = s.String()
	}

	rows, err := r.pool.Query(ctx, findStaleSQL, states, f.UpdatedBefore, f.Skip, f.Take)
	if err != nil {
		return nil, fmt.Errorf("querying stale orders (states %s): %w", strings.Join(states, ","), err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.Code, &o.State, &o.Total, &o.AggregateOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning stale order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale orders: %w", err)
	}

	if err := r.loadPayments(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// SetState persists a state change validated by the transition service.
func (r *OrderRepository) SetState(ctx context.Context, id string, state order.State, updatedAt time.Time) error {
	return r.writeState(ctx, id, state, updatedAt)
}

// ForceState writes the state directly, bypassing the transition graph. The
// SQL is the same as SetState; the separate method keeps the escape hatch
// explicit at every call site.
func (r *OrderRepository) ForceState(ctx context.Context, id string, state order.State, updatedAt time.Time) error {
	return r.writeState(ctx, id, state, updatedAt)
}

func (r *OrderRepository) writeState(ctx context.Context, id string, state order.State, updatedAt time.Time) error {
	ct, err := r.pool.Exec(ctx, setStateSQL, id, state.String(), updatedAt)
	if err != nil {
		return fmt.Errorf("updating state of order %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// loadLines attaches order lines to the given orders in place.
func (r *OrderRepository) loadLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := indexOrders(orders)

	rows, err := r.pool.Query(ctx, loadLinesSQL, orderIDs(orders))
	if err != nil {
		return fmt.Errorf("querying order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l       order.Line
			orderID string
		)
		if err := rows.Scan(&l.ID, &orderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

// loadPayments attaches payments and their refunds to the given orders in
// place.
func (r *OrderRepository) loadPayments(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := indexOrders(orders)

	rows, err := r.pool.Query(ctx, loadPaymentsSQL, orderIDs(orders))
	if err != nil {
		return fmt.Errorf("querying payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       order.Payment
			ref     order.Refund
			orderID string
		)
		err := rows.Scan(&p.ID, &orderID, &p.Method, &p.State, &p.Amount,
			&ref.ID, &ref.PaymentID, &ref.Amount, &ref.Reason)
		if err != nil {
			return fmt.Errorf("scanning payment: %w", err)
		}
		o, ok := byID[orderID]
		if !ok {
			continue
		}
		// The LEFT JOIN repeats the payment row once per refund.
		last := len(o.Payments) - 1
		if last < 0 || o.Payments[last].ID != p.ID {
			o.Payments = append(o.Payments, p)
			last++
		}
		if ref.ID != "" {
			o.Payments[last].Refunds = append(o.Payments[last].Refunds, ref)
		}
	}
	return rows.Err()
}

func indexOrders(orders []order.Order) map[string]*order.Order {
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}
	return byID
}

func orderIDs(orders []order.Order) []string {
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	return ids
}
