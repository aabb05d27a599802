package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/order-janitor/internal/cleanup"
	"github.com/forgeline/order-janitor/internal/domain/order"
)

const findPurgeableSQL = `SELECT o.id, o.code, o.state, o.total, COALESCE(o.aggregate_order_id, ''), o.created_at, o.updated_at
	FROM orders o
	WHERE o.state = $1
	  AND o.updated_at < $2
	  AND NOT EXISTS (
		SELECT 1 FROM refunds r
		JOIN payments p ON r.payment_id = p.id
		WHERE p.order_id = o.id
	  )
	ORDER BY o.updated_at`

// purgeSteps is the ordered cascade executed inside one transaction when
// deleting orders. Children go first so no step trips a foreign key; refunds
// are deliberately never deleted — if one appears between selection and
// deletion, the payments step fails on its foreign key and the whole
// transaction rolls back, which is exactly the protection we want.
var purgeSteps = []struct {
	table string
	sql   string
}{
	{"stock_movements", `DELETE FROM stock_movements
		WHERE order_line_id IN (SELECT id FROM order_lines WHERE order_id = ANY($1))`},
	{"order_history", `DELETE FROM order_history WHERE order_id = ANY($1)`},
	{"order_channels", `DELETE FROM order_channels WHERE order_id = ANY($1)`},
	{"fulfillments", `WITH removed AS (
		DELETE FROM order_fulfillments WHERE order_id = ANY($1) RETURNING fulfillment_id
	) DELETE FROM fulfillments WHERE id IN (SELECT fulfillment_id FROM removed)`},
	{"order_modifications", `DELETE FROM order_modifications WHERE order_id = ANY($1)`},
	{"order_promotions", `DELETE FROM order_promotions WHERE order_id = ANY($1)`},
	{"order_lines", `DELETE FROM order_lines WHERE order_id = ANY($1)`},
	{"payments", `DELETE FROM payments WHERE order_id = ANY($1)`},
	{"shipping_lines", `DELETE FROM shipping_lines WHERE order_id = ANY($1)`},
	{"surcharges", `DELETE FROM surcharges WHERE order_id = ANY($1)`},
	{"sessions", `UPDATE sessions SET active_order_id = NULL WHERE active_order_id = ANY($1)`},
	{"aggregate_orders", `UPDATE orders SET aggregate_order_id = NULL WHERE aggregate_order_id = ANY($1)`},
	{"orders", `DELETE FROM orders WHERE id = ANY($1)`},
}

var _ cleanup.Purger = (*PurgeRepository)(nil)

// PurgeRepository implements cleanup.Purger backed by PostgreSQL.
type PurgeRepository struct {
	pool *pgxpool.Pool
}

// NewPurgeRepository returns a PurgeRepository that uses the given pool.
func NewPurgeRepository(pool *pgxpool.Pool) *PurgeRepository {
	return &PurgeRepository{pool: pool}
}

// FindPurgeable returns cancelled orders last updated before the cutoff with
// no refunds on any payment, loaded with their lines and payments so they
// can be archived before deletion.
func (r *PurgeRepository) FindPurgeable(ctx context.Context, before time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, findPurgeableSQL, order.StateCancelled.String(), before)
	if err != nil {
		return nil, fmt.Errorf("querying purgeable orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.Code, &o.State, &o.Total, &o.AggregateOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning purgeable order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating purgeable orders: %w", err)
	}

	loader := OrderRepository{pool: r.pool}
	if err := loader.loadLines(ctx, orders); err != nil {
		return nil, err
	}
	if err := loader.loadPayments(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// DeleteOrders runs the purge cascade for the given order IDs inside a
// single transaction. On any step's failure the transaction is rolled back
// and nothing is deleted.
func (r *PurgeRepository) DeleteOrders(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("beginning purge transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	deleted := 0
	for _, step := range purgeSteps {
		ct, err := tx.Exec(ctx, step.sql, ids)
		if err != nil {
			return 0, fmt.Errorf("purge step %s: %w", step.table, err)
		}
		if step.table == "orders" {
			deleted = int(ct.RowsAffected())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing purge transaction: %w", err)
	}
	return deleted, nil
}
