package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.RunMigrations(ctx, migrations.FS))
	return r
}

func seedAccount(t *testing.T, r *SQLiteRepository) *WarehouseAccount {
	t.Helper()
	acc, err := r.InsertAccount(context.Background(), WarehouseAccount{
		ProviderKey: "fhb",
		DisplayName: "FHB main",
		Credentials: map[string]any{"client_id": "abc", "client_secret": "xyz"},
	})
	require.NoError(t, err)
	return acc
}

func TestMigrationsAreRepeatable(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.RunMigrations(context.Background(), migrations.FS))
}

func TestInsertAndGetAccount(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)

	got, err := r.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "fhb", got.ProviderKey)
	assert.Equal(t, AccountActive, got.Status)
	assert.Equal(t, "abc", got.Credentials["client_id"])
	assert.False(t, got.InitialSyncCompleted)
	require.NotNil(t, got.InitialSyncStatus)
	assert.Equal(t, InitialSyncPending, *got.InitialSyncStatus)

	_, err = r.GetAccount(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListActiveAccountsSkipsInactive(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	active := seedAccount(t, r)
	_, err := r.InsertAccount(ctx, WarehouseAccount{ProviderKey: "european", DisplayName: "off", Status: AccountInactive})
	require.NoError(t, err)

	accounts, err := r.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, active.ID, accounts[0].ID)
}

func TestInitialSyncCompletionIsSticky(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.MarkInitialSyncStarted(ctx, acc.ID))
	got, err := r.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, InitialSyncInProgress, *got.InitialSyncStatus)

	require.NoError(t, r.MarkInitialSyncResult(ctx, acc.ID, true, nil, at))
	msg := "window failed"
	require.NoError(t, r.MarkInitialSyncResult(ctx, acc.ID, false, &msg, at.Add(time.Hour)))

	got, err = r.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.InitialSyncCompleted)
	require.NotNil(t, got.InitialSyncCompletedAt)
	assert.True(t, got.InitialSyncCompletedAt.Equal(at))

	err = r.MarkInitialSyncStarted(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertStagingOrderIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)
	ordered := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

	order := StagingOrder{
		AccountID:       acc.ID,
		ProviderKey:     "fhb",
		ExternalOrderID: "FHB-1",
		Reference:       "SHOP-100",
		ExternalStatus:  "sent",
		Value:           decimal.RequireFromString("49.90"),
		Currency:        "EUR",
		Recipient:       StagingRecipient{Name: "Ana Lopez", Phone: "+34 612 345 678"},
		Items:           json.RawMessage(`[{"sku":"A1","quantity":2}]`),
		RawPayload:      json.RawMessage(`{"id":"FHB-1"}`),
		OrderedAt:       &ordered,
	}

	outcome, err := r.UpsertStagingOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, outcome)

	stored, err := r.GetStagingOrder(ctx, acc.ID, "FHB-1")
	require.NoError(t, err)
	require.NoError(t, r.MarkStagingProcessed(ctx, stored.ID, "order-1", time.Now()))

	order.ExternalStatus = "delivered"
	outcome, err = r.UpsertStagingOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, outcome)

	again, err := r.GetStagingOrder(ctx, acc.ID, "FHB-1")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, "delivered", again.ExternalStatus)
	assert.False(t, again.ProcessedToOrders)
	assert.Nil(t, again.ProcessedAt)
	assert.True(t, again.Value.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, "Ana Lopez", again.Recipient.Name)
	require.NotNil(t, again.OrderedAt)
	assert.True(t, again.OrderedAt.Equal(ordered))

	_, err = r.UpsertStagingOrder(ctx, StagingOrder{AccountID: acc.ID, ExternalOrderID: "  "})
	assert.Error(t, err)
}

func TestListUnprocessedStagingPagesByID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)

	for _, id := range []string{"A", "B", "C", "D", "E"} {
		_, err := r.UpsertStagingOrder(ctx, StagingOrder{AccountID: acc.ID, ProviderKey: "fhb", ExternalOrderID: id})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	after := ""
	for {
		page, err := r.ListUnprocessedStaging(ctx, acc.ID, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 2)
		for _, row := range page {
			assert.False(t, seen[row.ExternalOrderID])
			seen[row.ExternalOrderID] = true
		}
		after = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)
}

func TestApplyCarrierUpdateMergesProviderData(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)

	order, err := r.InsertOrder(ctx, Order{
		OperationID:       "op-1",
		ExternalReference: "SHOP-100",
		Status:            "confirmed",
		TrackingNumber:    "TRK-OLD",
		ProviderData:      map[string]any{"european": map[string]any{"id": "EU-9"}},
	})
	require.NoError(t, err)

	at := time.Date(2026, 2, 11, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.ApplyCarrierUpdate(ctx, CarrierUpdate{
		OrderID:      order.ID,
		Status:       "shipped",
		AccountID:    acc.ID,
		ExternalID:   "FHB-1",
		ProviderKey:  "fhb",
		ProviderData: map[string]any{"external_id": "FHB-1", "status": "sent"},
		MatchedAt:    at,
	}))

	got, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "shipped", got.Status)
	assert.Equal(t, "TRK-OLD", got.TrackingNumber)
	require.NotNil(t, got.MatchedExternalID)
	assert.Equal(t, "FHB-1", *got.MatchedExternalID)
	require.NotNil(t, got.LastStatusUpdate)
	assert.True(t, got.LastStatusUpdate.Equal(at))
	assert.Contains(t, got.ProviderData, "european")
	fhb, ok := got.ProviderData["fhb"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sent", fhb["status"])

	err = r.ApplyCarrierUpdate(ctx, CarrierUpdate{OrderID: "missing", ProviderKey: "fhb", MatchedAt: at})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrdersForOperations(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for _, o := range []Order{
		{ID: "o-old", OperationID: "op-1", CreatedAt: old},
		{ID: "o-new", OperationID: "op-1", CreatedAt: recent},
		{ID: "o-other", OperationID: "op-2", CreatedAt: recent},
		{ID: "o-foreign", OperationID: "op-3", CreatedAt: recent},
	} {
		_, err := r.InsertOrder(ctx, o)
		require.NoError(t, err)
	}

	all, err := r.ListOrdersForOperations(ctx, []string{"op-1", "op-2"}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filtered, err := r.ListOrdersForOperations(ctx, []string{"op-1", "op-2"}, &since)
	require.NoError(t, err)
	ids := []string{}
	for _, o := range filtered {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"o-new", "o-other"}, ids)

	none, err := r.ListOrdersForOperations(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSyncRunLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)
	started := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)

	run, err := r.InsertSyncRun(ctx, SyncRun{AccountID: acc.ID, SyncType: SyncDeep, StartedAt: started})
	require.NoError(t, err)
	assert.Equal(t, RunStarted, run.Status)

	done := started.Add(90 * time.Second)
	run.Status = RunCompleted
	run.OrdersProcessed = 12
	run.OrdersCreated = 4
	run.OrdersUpdated = 7
	run.OrdersUnmatched = 5
	run.DurationMS = 90000
	run.CompletedAt = &done
	require.NoError(t, r.FinishSyncRun(ctx, *run))

	_, err = r.InsertSyncRun(ctx, SyncRun{AccountID: "other", SyncType: SyncFast, StartedAt: started.Add(time.Hour)})
	require.NoError(t, err)

	runs, err := r.ListSyncRuns(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, SyncDeep, runs[0].SyncType)
	assert.Equal(t, RunCompleted, runs[0].Status)
	assert.Equal(t, 12, runs[0].OrdersProcessed)
	assert.Equal(t, int64(90000), runs[0].DurationMS)

	everything, err := r.ListSyncRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, everything, 2)
	assert.Equal(t, SyncFast, everything[0].SyncType)
}

func TestOperationLinks(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	acc := seedAccount(t, r)

	require.NoError(t, r.UpsertOperationLink(ctx, OperationLink{AccountID: acc.ID, OperationID: "op-1", ReferencePrefix: "AAA"}))
	require.NoError(t, r.UpsertOperationLink(ctx, OperationLink{AccountID: acc.ID, OperationID: "op-1", ReferencePrefix: "AAB", IsDefault: true}))

	links, err := r.ListOperationLinks(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "AAB", links[0].ReferencePrefix)
	assert.True(t, links[0].IsDefault)
}
