package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/scheduler"
	"fulfillment-sync/migrations"
)

type fakeScheduler struct {
	err       error
	triggered []string
}

func (f *fakeScheduler) Trigger(accountID string, tier repo.SyncType) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, accountID+":"+string(tier))
	return nil
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Started: true, Tiers: []scheduler.TierSnapshot{{Tier: repo.SyncFast, Running: true}}}
}

type stubAdapter struct{ result provider.ConnectionResult }

func (stubAdapter) Key() provider.Key { return provider.FHB }
func (stubAdapter) Authenticate(context.Context) (provider.Token, error) {
	return provider.Token{}, nil
}
func (stubAdapter) FetchOrderHistory(context.Context, time.Time, time.Time, int) (provider.Page, error) {
	return provider.Page{}, nil
}
func (stubAdapter) GetOrderStatus(context.Context, string) (*provider.OrderStatus, error) {
	return nil, provider.ErrNotFound
}
func (stubAdapter) CreateOrder(context.Context, provider.CreateOrderRequest) (*provider.CreateOrderResult, error) {
	return nil, provider.ErrNotFound
}
func (a stubAdapter) TestConnection(context.Context) provider.ConnectionResult { return a.result }

type fixture struct {
	server  *Server
	store   *repo.SQLiteRepository
	sched   *fakeScheduler
	account *repo.WarehouseAccount
}

func newFixture(t *testing.T, basePath string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repo.NewSQLite(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.FS))

	account, err := store.InsertAccount(ctx, repo.WarehouseAccount{
		ProviderKey: "fhb",
		DisplayName: "FHB",
		Credentials: map[string]any{"app_id": "a", "secret": "top-secret"},
	})
	require.NoError(t, err)

	registry := provider.NewRegistry(provider.Deps{Logger: logger})
	registry.Register(provider.FHB, func(provider.Account, provider.Deps) (provider.Adapter, error) {
		return stubAdapter{result: provider.ConnectionResult{OK: true, Message: "connected"}}, nil
	})

	sched := &fakeScheduler{}
	srv := New(":0", logger, nil, Dependencies{Store: store, Scheduler: sched, Adapters: registry}, basePath)
	return &fixture{server: srv, store: store, sched: sched, account: account}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPost, "/healthz", "").Code)
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/admin/accounts/"+f.account.ID+"/sync", `{"syncType":"deep"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])
	assert.Equal(t, []string{f.account.ID + ":deep"}, f.sched.triggered)

	rec = f.do(http.MethodPost, "/admin/accounts/"+f.account.ID+"/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "fast", decode(t, rec)["sync_type"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/admin/accounts/nope/sync", `{"syncType":"fast"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/accounts/"+f.account.ID+"/sync", `{`).Code)
}

func TestTriggerSyncMapsSchedulerErrors(t *testing.T) {
	f := newFixture(t, "")
	path := "/admin/accounts/" + f.account.ID + "/sync"

	f.sched.err = scheduler.ErrQueueFull
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, path, `{"syncType":"fast"}`).Code)

	f.sched.err = scheduler.ErrInvalidTier
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, path, `{"syncType":"hourly"}`).Code)

	f.sched.err = scheduler.ErrNotRunning
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, path, `{"syncType":"fast"}`).Code)
}

func TestTriggerSyncRefusesInactiveAccount(t *testing.T) {
	f := newFixture(t, "")
	off, err := f.store.InsertAccount(context.Background(), repo.WarehouseAccount{ProviderKey: "fhb", DisplayName: "off", Status: repo.AccountInactive})
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/admin/accounts/"+off.ID+"/sync", `{"syncType":"fast"}`).Code)
	assert.Empty(t, f.sched.triggered)
}

func TestSyncStatusHidesCredentials(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	run, err := f.store.InsertSyncRun(ctx, repo.SyncRun{AccountID: f.account.ID, SyncType: repo.SyncFast})
	require.NoError(t, err)
	run.Status = repo.RunCompleted
	run.OrdersProcessed = 12
	done := time.Now().UTC()
	run.CompletedAt = &done
	require.NoError(t, f.store.FinishSyncRun(ctx, *run))

	rec := f.do(http.MethodGet, "/admin/accounts/"+f.account.ID+"/sync-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "top-secret")

	body := decode(t, rec)
	account := body["account"].(map[string]any)
	assert.Equal(t, "fhb", account["provider_key"])
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, float64(12), runs[0].(map[string]any)["orders_processed"])
}

func TestSyncRunsListing(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < 3; i++ {
		_, err := f.store.InsertSyncRun(context.Background(), repo.SyncRun{AccountID: f.account.ID, SyncType: repo.SyncFast})
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, "/admin/sync-runs?limit=2&account_id="+f.account.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["runs"].([]any), 2)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/admin/sync-runs?limit=zero", "").Code)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/admin/accounts/"+f.account.ID+"/test-connection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "connected", body["message"])

	other, err := f.store.InsertAccount(context.Background(), repo.WarehouseAccount{ProviderKey: "unknown", DisplayName: "x"})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/admin/accounts/"+other.ID+"/test-connection", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ok"])
}

func TestSchedulerSnapshotUnderBasePath(t *testing.T) {
	f := newFixture(t, "/sync/")
	rec := f.do(http.MethodGet, "/sync/admin/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["started"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/admin/scheduler", "").Code)
}
