package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/artisanflow/internal/blocking"
	"github.com/joao-fontenele/artisanflow/internal/domain"
	"github.com/joao-fontenele/artisanflow/internal/matching"
	"github.com/joao-fontenele/artisanflow/internal/memstore"
	"github.com/joao-fontenele/artisanflow/internal/orchestrator"
	"github.com/joao-fontenele/artisanflow/internal/scheduler"
)

type silentNotifier struct{}

func (silentNotifier) Send(context.Context, int64, string, []domain.Action) bool { return true }

func newTestServer(t *testing.T) (*http.ServeMux, *memstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := scheduler.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := memstore.New(clock.Now)
	store.AddArtisan(domain.Artisan{ID: 101, Latitude: 41.31, Longitude: 69.28, Services: []string{"plumbing"}, Active: true})

	orch, err := orchestrator.New(orchestrator.Deps{
		Orders:    store,
		Ledger:    blocking.NewLedger(store, clock.Now, logger),
		Notifier:  silentNotifier{},
		Inviter:   matching.NewFanOut(store, silentNotifier{}, matching.DefaultConfig(), logger),
		Scheduler: scheduler.New(clock, scheduler.DefaultTiming(), store, logger),
		Policy:    orchestrator.DefaultPolicy(),
		Logger:    logger,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(orch, store, logger).Register(mux, nil)
	return mux, store
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type viewResponse struct {
	ID            int64                  `json:"id"`
	Status        string                 `json:"status"`
	PaymentStatus string                 `json:"payment_status"`
	Price         string                 `json:"price"`
	Phase         string                 `json:"phase"`
	PendingTasks  []domain.ScheduledTask `json:"pending_tasks"`
}

const createBody = `{"customer_id":500,"service":"plumbing","latitude":41.311,"longitude":69.279,"scheduled_time":"2025-03-10 11:00"}`

func TestHandleCreate(t *testing.T) {
	t.Run("creates a searching order and invites artisans", func(t *testing.T) {
		mux, _ := newTestServer(t)

		rec := do(t, mux, http.MethodPost, "/orders", createBody)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		resp := decode[struct {
			Order   viewResponse  `json:"order"`
			Invited inviteSummary `json:"invited"`
		}](t, rec)
		assert.Equal(t, int64(1), resp.Order.ID)
		assert.Equal(t, "searching", resp.Order.Status)
		assert.Equal(t, inviteSummary{Candidates: 1, Delivered: 1}, resp.Invited)
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		mux, _ := newTestServer(t)
		rec := do(t, mux, http.MethodPost, "/orders", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a missing service", func(t *testing.T) {
		mux, _ := newTestServer(t)
		rec := do(t, mux, http.MethodPost, "/orders", `{"customer_id":500}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGet(t *testing.T) {
	mux, _ := newTestServer(t)
	do(t, mux, http.MethodPost, "/orders", createBody)

	rec := do(t, mux, http.MethodGet, "/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[viewResponse](t, rec)
	assert.Equal(t, "searching", view.Phase)
	require.Len(t, view.PendingTasks, 1)
	assert.Equal(t, domain.TaskAcceptanceCheck, view.PendingTasks[0].Type)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/orders/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/orders/abc", "").Code)
}

func TestHandleList(t *testing.T) {
	mux, _ := newTestServer(t)
	do(t, mux, http.MethodPost, "/orders", createBody)
	do(t, mux, http.MethodPost, "/orders", createBody)
	do(t, mux, http.MethodPost, "/orders/2/accept", `{"artisan_id":101}`)

	rec := do(t, mux, http.MethodGet, "/orders?status=searching", "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[[]viewResponse](t, rec)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1), orders[0].ID)

	assert.Len(t, decode[[]viewResponse](t, do(t, mux, http.MethodGet, "/orders", "")), 2)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/orders?limit=0", "").Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	mux, store := newTestServer(t)
	do(t, mux, http.MethodPost, "/orders", createBody)

	steps := []struct {
		path string
		body string
		want int
	}{
		{"/orders/1/accept", `{"artisan_id":101}`, http.StatusOK},
		{"/orders/1/accept", `{"artisan_id":102}`, http.StatusConflict},
		{"/orders/1/arrival", `{"artisan_id":102}`, http.StatusForbidden},
		{"/orders/1/arrival", `{"artisan_id":101}`, http.StatusOK},
		{"/orders/1/presence", `{"customer_id":500}`, http.StatusBadRequest},
		{"/orders/1/presence", `{"customer_id":500,"present":true}`, http.StatusOK},
		{"/orders/1/price", `{"artisan_id":101,"price":"0"}`, http.StatusBadRequest},
		{"/orders/1/price", `{"artisan_id":101,"price":150}`, http.StatusOK},
		{"/orders/1/price/accept", `{"customer_id":500}`, http.StatusOK},
		{"/orders/1/payment-method", `{"customer_id":500,"payment_method":"cash"}`, http.StatusOK},
		{"/orders/1/cash-paid", `{"customer_id":500}`, http.StatusOK},
		{"/orders/1/cash-received", `{"artisan_id":101}`, http.StatusOK},
		{"/orders/1/commission/settle", "", http.StatusOK},
		{"/orders/1/commission/settle", "", http.StatusConflict},
	}
	for _, step := range steps {
		rec := do(t, mux, http.MethodPost, step.path, step.body)
		require.Equal(t, step.want, rec.Code, "%s %s: %s", step.path, step.body, rec.Body.String())
	}

	order, err := store.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, "150.00", order.Price.StringFixed(2))
	assert.NotNil(t, order.CommissionPaidAt)
}

func TestHandleCancel(t *testing.T) {
	mux, _ := newTestServer(t)
	do(t, mux, http.MethodPost, "/orders", createBody)

	assert.Equal(t, http.StatusForbidden, do(t, mux, http.MethodPost, "/orders/1/cancel", `{"customer_id":1}`).Code)

	rec := do(t, mux, http.MethodPost, "/orders/1/cancel", `{"customer_id":500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[viewResponse](t, rec)
	assert.Equal(t, "cancelled", view.Status)
	assert.Empty(t, view.PendingTasks)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodPost, "/orders/7/cancel", `{"customer_id":500}`).Code)
}

func TestHandleCommissionQuote(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := do(t, mux, http.MethodGet, "/commission?price=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[map[string]string](t, rec)
	assert.Equal(t, "16", quote["rate_percent"])
	assert.Equal(t, "16", quote["admin_fee"])
	assert.Equal(t, "84", quote["artisan_amount"])

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/commission?price=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/commission?price=-1", "").Code)
}

type brokenOrchestrator struct {
	Orchestrator
}

func (brokenOrchestrator) CancelOrder(context.Context, int64, int64) error {
	return errors.New("connection reset")
}

func TestHandle_UnexpectedErrorIsGeneric(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(brokenOrchestrator{}, memstore.New(nil), logger)
	mux := http.NewServeMux()
	h.Register(mux, nil)

	rec := do(t, mux, http.MethodPost, "/orders/1/cancel", `{"customer_id":500}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error, please try again later", decode[map[string]string](t, rec)["error"])
}
