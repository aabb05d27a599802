package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/forgeline/order-janitor/internal/cleanup"
	"github.com/forgeline/order-janitor/internal/domain/order"
)

// --- Stubs ---

type stubOrderRepo struct {
	stale []order.Order
}

func (s *stubOrderRepo) GetByID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (s *stubOrderRepo) FindStalePage(_ context.Context, f order.StaleFilter) ([]order.Order, error) {
	if f.Skip > 0 {
		return nil, nil
	}
	return s.stale, nil
}

func (s *stubOrderRepo) SetState(context.Context, string, order.State, time.Time) error {
	return nil
}

func (s *stubOrderRepo) ForceState(context.Context, string, order.State, time.Time) error {
	return nil
}

type stubHistory struct{}

func (stubHistory) Append(context.Context, order.HistoryEntry) error { return nil }

type stubPurger struct {
	purgeable []order.Order
}

func (s *stubPurger) FindPurgeable(context.Context, time.Time) ([]order.Order, error) {
	return s.purgeable, nil
}

func (s *stubPurger) DeleteOrders(_ context.Context, ids []string) (int, error) {
	return len(ids), nil
}

func newTestHandler(t *testing.T, repo *stubOrderRepo, purger *stubPurger, purgeEnabled bool) http.Handler {
	t.Helper()
	engine, err := cleanup.New(
		cleanup.Config{},
		repo,
		order.NewTransitionService(repo, stubHistory{}),
		stubHistory{},
		purger,
		nil,
		zap.NewNop(),
		noop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(engine, purgeEnabled).Register(mux)
	return mux
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestCleanup_EmptyBodyUsesDefaults(t *testing.T) {
	repo := &stubOrderRepo{stale: []order.Order{
		{ID: "o1", Code: "FL-000001", State: order.StateArrangingPayment, UpdatedAt: time.Now().Add(-time.Hour)},
	}}
	h := newTestHandler(t, repo, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodPost, "/admin/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cancelled int `json:"cancelled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Cancelled)
}

func TestCleanup_OverrideThreshold(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodPost, "/admin/cleanup", `{"maxAgeMinutes": 15}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled": 0}`, rec.Body.String())
}

func TestCleanup_NegativeOverrideRejected(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodPost, "/admin/cleanup", `{"maxAgeMinutes": -5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanup_InvalidJSONRejected(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodPost, "/admin/cleanup", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanup_GetNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodGet, "/admin/cleanup", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPurge_DisabledByConfig(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, false)

	rec := doRequest(t, h, http.MethodPost, "/admin/purge", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPurge_Enabled(t *testing.T) {
	purger := &stubPurger{purgeable: []order.Order{
		{ID: "o1", Code: "FL-000001", State: order.StateCancelled, UpdatedAt: time.Now().Add(-240 * time.Hour)},
	}}
	h := newTestHandler(t, &stubOrderRepo{}, purger, true)

	rec := doRequest(t, h, http.MethodPost, "/admin/purge", `{"minAgeDays": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted": 1}`, rec.Body.String())
}

func TestPurge_NegativeOverrideRejected(t *testing.T) {
	h := newTestHandler(t, &stubOrderRepo{}, &stubPurger{}, true)

	rec := doRequest(t, h, http.MethodPost, "/admin/purge", `{"minAgeDays": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
