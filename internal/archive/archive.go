// Package archive exports order aggregates to compressed NDJSON files before
// they are purged from the database.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/forgeline/order-janitor/internal/domain/order"
)

// FileArchiver writes one gzip-compressed NDJSON file per purge run into a
// directory. Each line is a full order aggregate.
type FileArchiver struct {
	dir string
}

// NewFileArchiver creates a FileArchiver writing into dir. The directory is
// created if missing.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory %q: %w", dir, err)
	}
	return &FileArchiver{dir: dir}, nil
}

// orderRecord is the exported shape of a purged order.
type orderRecord struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	State            string          `json:"state"`
	Total            decimal.Decimal `json:"total"`
	AggregateOrderID string          `json:"aggregateOrderId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Lines            []lineRecord    `json:"lines,omitempty"`
	Payments         []paymentRecord `json:"payments,omitempty"`
}

type lineRecord struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type paymentRecord struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	State  string          `json:"state"`
	Amount decimal.Decimal `json:"amount"`
}

// Archive writes the given orders to a new timestamped .ndjson.gz file. The
// file is fsynced before Archive returns, so a success here means the export
// survives even if the purge transaction right after it crashes the process.
func (a *FileArchiver) Archive(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	name := fmt.Sprintf("orders-purged-%s.ndjson.gz", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating archive file %q: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // double close after successful Sync

	zw := pgzip.NewWriter(f)
	bw := bufio.NewWriter(zw)
	enc := json.NewEncoder(bw)

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(toRecord(&orders[i])); err != nil {
			return fmt.Errorf("encoding order %q: %w", orders[i].Code, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing archive %q: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing gzip stream %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing archive %q: %w", path, err)
	}
	return f.Close()
}

func toRecord(o *order.Order) orderRecord {
	rec := orderRecord{
		ID:               o.ID,
		Code:             o.Code,
		State:            o.State.String(),
		Total:            o.Total,
		AggregateOrderID: o.AggregateOrderID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for _, l := range o.Lines {
		rec.Lines = append(rec.Lines, lineRecord{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	for _, p := range o.Payments {
		rec.Payments = append(rec.Payments, paymentRecord{
			ID:     p.ID,
			Method: p.Method,
			State:  string(p.State),
			Amount: p.Amount,
		})
	}
	return rec
}
