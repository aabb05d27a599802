// Package cleanup implements the stale-order sweep: orders stuck in a
// payment-pending state past an age threshold are forced toward Cancelled
// through a layered fallback strategy, and old refund-free cancelled orders
// are purged from the database entirely.
package cleanup

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/forgeline/order-janitor/internal/domain/order"
)

// Cancellation paths reported in logs and metrics.
const (
	pathDirect           = "direct"
	pathViaSettled       = "via_payment_settled"
	pathViaArranging     = "via_arranging_payment"
	pathForced           = "forced"
	attrCancellationPath = "cancellation.path"
)

// Transitioner moves an order along the state graph, returning a
// *order.TransitionRejectedError when the move is refused.
type Transitioner interface {
	TransitionToState(ctx context.Context, o *order.Order, target order.State) error
}

// Purger finds and transactionally deletes cancelled orders together with
// all their dependent rows.
type Purger interface {
	// FindPurgeable returns cancelled orders last updated before the cutoff
	// whose payments carry no refunds.
	FindPurgeable(ctx context.Context, before time.Time) ([]order.Order, error)
	// DeleteOrders removes the given orders and every dependent row in a
	// single transaction. On error nothing is deleted.
	DeleteOrders(ctx context.Context, ids []string) (int, error)
}

// Archiver exports order aggregates before they are purged.
type Archiver interface {
	Archive(ctx context.Context, orders []order.Order) error
}

// Config holds the engine's tunables. Zero values fall back to the defaults
// below.
type Config struct {
	// OrderMaxAge is how long an order may sit in a pending state before it
	// is considered stale.
	OrderMaxAge time.Duration
	// BatchSize is the page size of the stale-order scan.
	BatchSize int
	// MaxPages caps the number of pages per run; anything beyond is left for
	// the next scheduled run.
	MaxPages int
	// PurgeMinAge is how old a cancelled order must be before it is eligible
	// for deletion.
	PurgeMinAge time.Duration
}

// Defaults for Config.
const (
	DefaultOrderMaxAge = 30 * time.Minute
	DefaultBatchSize   = 100
	DefaultMaxPages    = 100
	DefaultPurgeMinAge = 7 * 24 * time.Hour
)

func (c *Config) applyDefaults() {
	if c.OrderMaxAge <= 0 {
		c.OrderMaxAge = DefaultOrderMaxAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.PurgeMinAge <= 0 {
		c.PurgeMinAge = DefaultPurgeMinAge
	}
}

// Engine is the order cleanup engine. It owns no schedule of its own; the
// scheduler (or the admin surface) calls into it.
type Engine struct {
	cfg         Config
	orders      order.Repository
	transitions Transitioner
	history     order.HistoryRepository
	purger      Purger
	archiver    Archiver // optional
	lg          *zap.Logger

	cancelledTotal metric.Int64Counter
	purgedTotal    metric.Int64Counter
}

// New constructs an Engine. archiver may be nil, in which case purged orders
// are deleted without an export.
func New(
	cfg Config,
	orders order.Repository,
	transitions Transitioner,
	history order.HistoryRepository,
	purger Purger,
	archiver Archiver,
	lg *zap.Logger,
	meter metric.Meter,
) (*Engine, error) {
	cfg.applyDefaults()

	cancelledTotal, err := meter.Int64Counter("janitor.orders.cancelled",
		metric.WithDescription("Stale orders moved to Cancelled, by cancellation path"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cancelled counter")
	}
	purgedTotal, err := meter.Int64Counter("janitor.orders.purged",
		metric.WithDescription("Cancelled orders hard-deleted by the purge pass"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create purged counter")
	}

	return &Engine{
		cfg:            cfg,
		orders:         orders,
		transitions:    transitions,
		history:        history,
		purger:         purger,
		archiver:       archiver,
		lg:             lg,
		cancelledTotal: cancelledTotal,
		purgedTotal:    purgedTotal,
	}, nil
}

// CancelStaleOrders scans orders stuck in a pending state for longer than
// maxAge and cancels them. A failure on one order is logged and does not
// abort the batch. The page cap bounds a single run; leftovers are picked up
// by the next one. Returns the number of orders cancelled.
func (e *Engine) CancelStaleOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, errors.Errorf("max age must be positive, got %s", maxAge)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	e.lg.Info("Cleaning up stale orders",
		zap.Time("cutoff", cutoff),
		zap.Duration("max_age", maxAge),
	)

	// Cancelled rows drop out of the pending filter between pages, so
	// skip/take offsets drift while the scan mutates the set underneath
	// itself. The filter remembers every ID already handled this run.
	seen := bloom.NewWithEstimates(uint(e.cfg.BatchSize*e.cfg.MaxPages), 0.001)

	cancelled := 0
	skip := 0
	for page := 0; page < e.cfg.MaxPages; page++ {
		orders, err := e.orders.FindStalePage(ctx, order.StaleFilter{
			States:        order.PendingStates,
			UpdatedBefore: cutoff,
			Skip:          skip,
			Take:          e.cfg.BatchSize,
		})
		if err != nil {
			return cancelled, errors.Wrap(err, "query stale orders")
		}
		if len(orders) == 0 {
			break
		}

		pageCancelled := 0
		for i := range orders {
			o := &orders[i]
			if seen.TestOrAddString(o.ID) {
				continue
			}
			path, err := e.cancelOrder(ctx, o)
			if err != nil {
				e.lg.Error("Failed to cancel stale order",
					zap.String("order_code", o.Code),
					zap.String("state", o.State.String()),
					zap.Error(err),
				)
				continue
			}
			e.lg.Info("Cancelled stale order",
				zap.String("order_code", o.Code),
				zap.String("path", path),
			)
			e.cancelledTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String(attrCancellationPath, path),
			))
			cancelled++
			pageCancelled++
		}

		if len(orders) < e.cfg.BatchSize {
			break
		}
		// Orders that stayed pending (failures) still match the filter and
		// push later pages back; only they advance the offset.
		skip += len(orders) - pageCancelled
	}

	e.lg.Info("Stale order cleanup finished", zap.Int("cancelled", cancelled))
	return cancelled, nil
}

// cancelOrder walks the fallback chain for a single order:
//
//  1. direct transition to Cancelled;
//  2. for PaymentAuthorized orders, an intermediate hop first —
//     PaymentSettled, then ArrangingPayment;
//  3. a forced state write bypassing the graph, paired with an audit entry.
//
// It returns the path that succeeded. Any error other than a transition
// rejection aborts the chain for this order.
func (e *Engine) cancelOrder(ctx context.Context, o *order.Order) (string, error) {
	rej, err := e.tryTransition(ctx, o, order.StateCancelled)
	if err != nil {
		return "", err
	}
	if rej == nil {
		return pathDirect, nil
	}
	lastRejection := rej

	if o.State == order.StatePaymentAuthorized {
		fallbacks := []struct {
			via  order.State
			path string
		}{
			{order.StatePaymentSettled, pathViaSettled},
			{order.StateArrangingPayment, pathViaArranging},
		}
		for _, fb := range fallbacks {
			rej, err := e.tryTransition(ctx, o, fb.via)
			if err != nil {
				return "", err
			}
			if rej != nil {
				lastRejection = rej
				continue
			}
			rej, err = e.tryTransition(ctx, o, order.StateCancelled)
			if err != nil {
				return "", err
			}
			if rej == nil {
				return fb.path, nil
			}
			lastRejection = rej
		}
	}

	if err := e.forceCancel(ctx, o, lastRejection); err != nil {
		return "", err
	}
	return pathForced, nil
}

// tryTransition attempts a single transition, separating rejections (which
// feed the fallback chain) from hard errors (which fail the order).
func (e *Engine) tryTransition(ctx context.Context, o *order.Order, target order.State) (*order.TransitionRejectedError, error) {
	err := e.transitions.TransitionToState(ctx, o, target)
	if err == nil {
		return nil, nil
	}
	var rej *order.TransitionRejectedError
	if errors.As(err, &rej) {
		return rej, nil
	}
	return nil, err
}

// forceCancel writes the Cancelled state directly, bypassing the transition
// graph. This deliberately violates the state machine invariant and is only
// reached when every legal path has been rejected; the forced move is always
// recorded in the order's history.
func (e *Engine) forceCancel(ctx context.Context, o *order.Order, lastRejection *order.TransitionRejectedError) error {
	from := o.State
	now := time.Now().UTC()

	e.lg.Warn("Force-cancelling order: state machine transitions failed",
		zap.String("order_code", o.Code),
		zap.String("from_state", from.String()),
		zap.String("last_rejection", lastRejection.Reason),
	)

	if err := e.orders.ForceState(ctx, o.ID, order.StateCancelled, now); err != nil {
		return errors.Wrap(err, "force state write")
	}
	o.State = order.StateCancelled
	o.UpdatedAt = now

	entry := order.HistoryEntry{
		OrderID:   o.ID,
		Type:      order.HistoryForcedState,
		Message:   "Order force-cancelled from " + from.String() + ": state machine transitions failed",
		CreatedAt: now,
	}
	if err := e.history.Append(ctx, entry); err != nil {
		return errors.Wrap(err, "append forced-state history")
	}
	return nil
}

// DeleteCancelledOrdersWithoutRefunds purges cancelled orders older than
// minAge whose payments carry no refunds. The cascade runs in one
// transaction: on any failure everything is rolled back, the error is logged
// and the returned count is zero. The scheduler keeps running either way.
func (e *Engine) DeleteCancelledOrdersWithoutRefunds(ctx context.Context, minAge time.Duration) (int, error) {
	if minAge <= 0 {
		return 0, errors.Errorf("min age must be positive, got %s", minAge)
	}

	cutoff := time.Now().UTC().Add(-minAge)
	candidates, err := e.purger.FindPurgeable(ctx, cutoff)
	if err != nil {
		e.lg.Error("Failed to query purgeable orders", zap.Error(err))
		return 0, nil
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, candidates); err != nil {
			// Never delete what could not be exported.
			e.lg.Error("Failed to archive orders before purge, aborting purge", zap.Error(err))
			return 0, nil
		}
	}

	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	deleted, err := e.purger.DeleteOrders(ctx, ids)
	if err != nil {
		e.lg.Error("Purge transaction failed, rolled back", zap.Error(err))
		return 0, nil
	}

	e.lg.Info("Purged cancelled orders without refunds",
		zap.Int("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	e.purgedTotal.Add(ctx, int64(deleted))
	return deleted, nil
}

// TriggerManualCleanup runs the stale-order sweep synchronously. A positive
// maxAgeMinutes overrides the configured threshold.
func (e *Engine) TriggerManualCleanup(ctx context.Context, maxAgeMinutes int) (int, error) {
	maxAge := e.cfg.OrderMaxAge
	if maxAgeMinutes > 0 {
		maxAge = time.Duration(maxAgeMinutes) * time.Minute
	}
	return e.CancelStaleOrders(ctx, maxAge)
}

// TriggerManualCancelledOrderDeletion runs the purge pass synchronously. A
// positive minAgeDays overrides the configured retention window.
func (e *Engine) TriggerManualCancelledOrderDeletion(ctx context.Context, minAgeDays int) (int, error) {
	minAge := e.cfg.PurgeMinAge
	if minAgeDays > 0 {
		minAge = time.Duration(minAgeDays) * 24 * time.Hour
	}
	return e.DeleteCancelledOrdersWithoutRefunds(ctx, minAge)
}
