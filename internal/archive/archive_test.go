package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/order-janitor/internal/domain/order"
)

func TestFileArchiver_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	require.NoError(t, err)

	orders := []order.Order{
		{
			ID:        "o1",
			Code:      "FL-000001",
			State:     order.StateCancelled,
			Total:     decimal.RequireFromString("149.90"),
			CreatedAt: time.Now().UTC().Add(-240 * time.Hour),
			UpdatedAt: time.Now().UTC().Add(-239 * time.Hour),
			Lines: []order.Line{
				{ID: "l1", ProductID: "prod-1", Quantity: 2, UnitPrice: decimal.RequireFromString("74.95")},
			},
			Payments: []order.Payment{
				{ID: "p1", Method: "card", State: order.PaymentDeclined, Amount: decimal.RequireFromString("149.90")},
			},
		},
		{
			ID:    "o2",
			Code:  "FL-000002",
			State: order.StateCancelled,
			Total: decimal.Zero,
		},
	}

	require.NoError(t, a.Archive(context.Background(), orders))

	matches, err := filepath.Glob(filepath.Join(dir, "orders-purged-*.ndjson.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NoError(t, sc.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "FL-000001", lines[0]["code"])
	assert.Equal(t, "Cancelled", lines[0]["state"])
	assert.Len(t, lines[0]["lines"], 1)
	assert.Len(t, lines[0]["payments"], 1)
	assert.Equal(t, "FL-000002", lines[1]["code"])
}

func TestFileArchiver_EmptyInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileArchiver_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileArchiver(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.Archive(ctx, []order.Order{{ID: "o1", Code: "FL-000001"}})
	require.ErrorIs(t, err, context.Canceled)
}
