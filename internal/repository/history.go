package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/order-janitor/internal/domain/order"
)

const appendHistorySQL = `INSERT INTO order_history (order_id, type, message, created_at)
	VALUES ($1, $2, $3, $4)`

var _ order.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository appends audit entries to the order_history table.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Append inserts one history entry.
func (r *HistoryRepository) Append(ctx context.Context, e order.HistoryEntry) error {
	_, err := r.pool.Exec(ctx, appendHistorySQL, e.OrderID, e.Type, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending history for order %q: %w", e.OrderID, err)
	}
	return nil
}
