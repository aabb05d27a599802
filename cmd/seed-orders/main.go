// Command seed-orders fills the database with synthetic orders in assorted
// lifecycle states for manually exercising the janitor. Development use only.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/forgeline/order-janitor/internal/domain/order"
	"github.com/forgeline/order-janitor/internal/repository"
)

func main() {
	var (
		databaseURL string
		count       int
		staleFor    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&count, "count", 20, "number of orders to seed per pending state")
	flag.DurationVar(&staleFor, "stale-for", 2*time.Hour, "how far in the past to backdate updated_at")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, count, staleFor); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, count int, staleFor time.Duration) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return err
	}

	states := []order.State{
		order.StateAddingItems,
		order.StateArrangingPayment,
		order.StatePaymentAuthorized,
	}

	updatedAt := time.Now().UTC().Add(-staleFor)
	seeded := 0
	for _, state := range states {
		for i := 0; i < count; i++ {
			if err := seedOrder(ctx, pool, state, updatedAt, seeded); err != nil {
				return err
			}
			seeded++
		}
	}

	slog.Info("seeded orders", "count", seeded, "updated_at", updatedAt)
	return nil
}

func seedOrder(ctx context.Context, pool *pgxpool.Pool, state order.State, updatedAt time.Time, n int) error {
	id := uuid.New().String()
	code := fmt.Sprintf("SEED-%06d", n)
	total := decimal.NewFromInt(int64(10 + n%90))

	_, err := pool.Exec(ctx,
		`INSERT INTO orders (id, code, state, total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		id, code, state.String(), total, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", code, err)
	}

	lineID := uuid.New().String()
	_, err = pool.Exec(ctx,
		`INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price)
		 VALUES ($1, $2, $3, $4, $5)`,
		lineID, id, "prod-"+uuid.NewString()[:8], 1, total,
	)
	if err != nil {
		return fmt.Errorf("insert line for order %s: %w", code, err)
	}

	// PaymentAuthorized orders get a matching authorized payment so the
	// settle-first fallback path has something to work with.
	if state == order.StatePaymentAuthorized {
		_, err = pool.Exec(ctx,
			`INSERT INTO payments (id, order_id, method, state, amount)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), id, "test-card", string(order.PaymentAuthorized), total,
		)
		if err != nil {
			return fmt.Errorf("insert payment for order %s: %w", code, err)
		}
	}
	return nil
}
