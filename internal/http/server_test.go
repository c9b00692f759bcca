package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetwatch/internal/alerts"
	"budgetwatch/internal/core"
	"budgetwatch/internal/services"
	"budgetwatch/internal/spendcache"
	"budgetwatch/internal/storage"
)

var march = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	registry *alerts.Registry
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := alerts.NewRegistry()
	spend := spendcache.New()
	clock := func() time.Time { return march }
	coord := services.NewCoordinator(store, spend, alerts.NewLocalPublisher(registry), services.WithClock(clock))
	reports := services.NewReportSnapshotter(store, spend, services.WithReportClock(clock))

	o := Options{
		Expenses:           coord,
		Budgets:            coord,
		Reports:            reports,
		Subscribers:        registry,
		RateLimitPerMinute: 1000,
	}
	for _, fn := range opts {
		fn(&o)
	}

	srv := NewServer(o)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return &testEnv{srv: srv, ts: ts, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, owner, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if owner != "" {
		req.Header.Set(HeaderUserID, owner)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/api/health"} {
		resp, body := env.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"ok":true}`, string(body), path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	}
}

func TestReadyz_NotReady(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("db down") }
	})

	resp, body := env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not ready"}`, string(body))
}

func TestAPI_RequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/budgets", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), HeaderUserID)
}

func TestExpenseLifecycle_OverHTTP(t *testing.T) {
	env := newTestEnv(t)
	const owner = "u1"

	resp, body := env.do(t, http.MethodPost, "/api/budgets", owner, `{"category":"Food","amount":"100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"ok":true}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/expenses", owner, `{"amount":60,"date":"2024-03-05","category":"Food"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	first := decode[createExpenseResponse](t, body)
	assert.NotEmpty(t, first.ID)
	assert.Empty(t, first.Alerts)
	assert.Equal(t, "/api/expenses/"+first.ID, resp.Header.Get("Location"))

	resp, body = env.do(t, http.MethodPost, "/api/expenses", owner, `{"amount":"50","date":"2024-03-06","category":"Food"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	second := decode[createExpenseResponse](t, body)
	require.Len(t, second.Alerts, 1)
	assert.Equal(t, core.Alert{Category: "Food", Spent: core.Money{Cents: 11000}, Limit: core.Money{Cents: 10000}}, second.Alerts[0])

	resp, body = env.do(t, http.MethodGet, "/api/budgets?month=2024-03", owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"category":"Food","budget_amount":"100","spent":"110","remaining":"-10","percentage":110,"status":"over"}]`, string(body))

	resp, _ = env.do(t, http.MethodDelete, "/api/expenses/"+second.ID, owner, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = env.do(t, http.MethodGet, "/api/budgets?month=2024-03", owner, "")
	statuses := decode[[]core.BudgetStatus](t, body)
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(6000), statuses[0].Spent.Cents)
	assert.Equal(t, core.StatusGood, statuses[0].Status)
}

func TestCreateExpense_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing amount", `{"date":"2024-03-05"}`, "amount is required"},
		{"missing date", `{"amount":"5"}`, "date is required"},
		{"bad amount", `{"amount":"abc","date":"2024-03-05"}`, "invalid amount"},
		{"three decimals", `{"amount":"1.005","date":"2024-03-05"}`, "invalid amount"},
		{"bad date", `{"amount":"5","date":"05/03/2024"}`, "invalid date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/expenses", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode[errorBody](t, body).Error, tt.want)
		})
	}

	resp, body := env.do(t, http.MethodPost, "/api/expenses", "u1", `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"invalid request body"}`, string(body))

	_, body = env.do(t, http.MethodGet, "/api/expenses", "u1", "")
	assert.JSONEq(t, `[]`, string(body), "nothing was written")
}

func TestListAndDeleteExpenses(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/expenses", "u1", `{"amount":"12.5","date":"2024-02-10","vendor":"Shop","note":"milk"}`)
	env.do(t, http.MethodPost, "/api/expenses", "u1", `{"amount":"3","date":"2024-03-01","category":"Travel"}`)
	env.do(t, http.MethodPost, "/api/expenses", "u2", `{"amount":"9","date":"2024-03-01"}`)

	_, body := env.do(t, http.MethodGet, "/api/expenses", "u1", "")
	all := decode[[]expenseView](t, body)
	require.Len(t, all, 2)
	assert.Equal(t, "2024-03-01", all[0].Date, "newest first")
	assert.Equal(t, core.DefaultCategory, all[1].Category)
	assert.Equal(t, "Shop", all[1].Vendor)
	assert.Equal(t, int64(1250), all[1].Amount.Cents)

	_, body = env.do(t, http.MethodGet, "/api/expenses?month=2024-02", "u1", "")
	assert.Len(t, decode[[]expenseView](t, body), 1)

	resp, _ := env.do(t, http.MethodGet, "/api/expenses?limit=1", "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/expenses?limit=zero", "u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/expenses?month=2024-13", "u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/expenses/"+all[0].ID, "u2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other owners cannot delete")

	resp, _ = env.do(t, http.MethodDelete, "/api/expenses/"+all[0].ID, "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/expenses/"+all[0].ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBudgets_UpsertAndDelete(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/budgets", "u1", `{"budget_category":"Eating Out","budget_amount":50}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/budgets", "u1", `{"category":"Food","amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "must not be negative")

	resp, _ = env.do(t, http.MethodPost, "/api/budgets", "u1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/budgets", "u1", `{"category":"Food"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = env.do(t, http.MethodGet, "/api/budgets", "u1", "")
	statuses := decode[[]core.BudgetStatus](t, body)
	require.Len(t, statuses, 1)
	assert.Equal(t, "Eating Out", statuses[0].Category)

	resp, _ = env.do(t, http.MethodDelete, "/api/budgets/Eating%20Out", "u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/budgets/Eating%20Out", "u1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = env.do(t, http.MethodGet, "/api/budgets", "u1", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestReports_GenerateListExport(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/reports/generate?month=2024-03", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"No data to report"}`, string(body))

	env.do(t, http.MethodPost, "/api/budgets", "u1", `{"category":"Food","amount":"100"}`)
	env.do(t, http.MethodPost, "/api/expenses", "u1", `{"amount":"110","date":"2024-03-05","category":"Food"}`)

	resp, body = env.do(t, http.MethodPost, "/api/reports/generate", "u1", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	gen := decode[generateReportResponse](t, body)
	assert.Equal(t, "2024-03", gen.Month)
	assert.True(t, gen.GeneratedAt.Equal(march))

	_, body = env.do(t, http.MethodGet, "/api/reports", "u1", "")
	list := decode[[]core.Report](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, gen.ID, list[0].ID)

	resp, body = env.do(t, http.MethodGet, "/api/reports/"+gen.ID, "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[core.Report](t, body)
	assert.Equal(t, int64(1000), report.TotalOverspent.Cents)

	resp, body = env.do(t, http.MethodGet, "/api/reports/"+gen.ID+"/csv", "u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report-2024-03.csv")
	assert.Equal(t, "Category,Budgeted,Spent,Overspent\nFood,100,110,10\n\nTOTAL,100,110,10\n", string(body))

	resp, _ = env.do(t, http.MethodGet, "/api/reports/"+gen.ID, "u2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, body = env.do(t, http.MethodGet, "/api/reports", "u2", "")
	assert.JSONEq(t, `[]`, string(body))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/budgets", "u1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodGet, "/api/budgets", "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Contains(t, string(body), "rate limit exceeded")

	resp, _ = env.do(t, http.MethodGet, "/api/budgets", "u2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "quota is per owner")
}

type panickingExpenses struct{ ExpenseService }

func (panickingExpenses) ListExpenses(context.Context, string, core.MonthKey, int) ([]core.Expense, error) {
	panic("boom")
}

type failingExpenses struct{ ExpenseService }

func (failingExpenses) ListExpenses(context.Context, string, core.MonthKey, int) ([]core.Expense, error) {
	return nil, errors.New("disk on fire")
}

func TestServerErrors(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Expenses = panickingExpenses{} })
	resp, body := env.do(t, http.MethodGet, "/api/expenses", "u1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"internal error"}`, string(body))

	env = newTestEnv(t, func(o *Options) { o.Expenses = failingExpenses{} })
	resp, body = env.do(t, http.MethodGet, "/api/expenses", "u1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(body), "disk on fire")
}

func dialAlerts(t *testing.T, env *testEnv, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/alerts/ws"
	header := http.Header{}
	if owner != "" {
		header.Set(HeaderUserID, owner)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestAlertsSocket_ReceivesOwnAlerts(t *testing.T) {
	env := newTestEnv(t)
	mine := dialAlerts(t, env, "u1")
	theirs := dialAlerts(t, env, "u2")
	require.Eventually(t, func() bool { return env.registry.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodPost, "/api/budgets", "u1", `{"category":"Food","amount":"10"}`)
	resp, _ := env.do(t, http.MethodPost, "/api/expenses", "u1", `{"amount":"15","date":"2024-03-05","category":"Food"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev core.AlertEvent
	require.NoError(t, mine.ReadJSON(&ev))
	require.Len(t, ev.Alerts, 1)
	assert.Equal(t, "Food", ev.Alerts[0].Category)
	assert.Equal(t, int64(1500), ev.Alerts[0].Spent.Cents)
	assert.False(t, ev.CreatedAt.IsZero())

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := theirs.ReadMessage()
	assert.Error(t, err, "other owners receive nothing")
}

func TestAlertsSocket_RequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/alerts/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAlertsSocket_UnregistersOnClose(t *testing.T) {
	env := newTestEnv(t)
	conn := dialAlerts(t, env, "u1")
	require.Eventually(t, func() bool { return env.registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_ClosesSockets(t *testing.T) {
	env := newTestEnv(t)
	conn := dialAlerts(t, env, "u1")
	require.Eventually(t, func() bool { return env.registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.srv.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
