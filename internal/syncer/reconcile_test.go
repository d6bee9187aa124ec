package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/status"
	"fulfillment-sync/migrations"
)

func newStore(t *testing.T) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, ":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.RunMigrations(ctx, migrations.FS))
	return r
}

func seedAccount(t *testing.T, store *repo.SQLiteRepository, created time.Time) *repo.WarehouseAccount {
	t.Helper()
	ctx := context.Background()
	acc, err := store.InsertAccount(ctx, repo.WarehouseAccount{
		ProviderKey: "fhb",
		DisplayName: "FHB Spain",
		Credentials: map[string]any{"app_id": "a", "secret": "s"},
		CreatedAt:   created,
	})
	require.NoError(t, err)
	require.NoError(t, store.UpsertOperationLink(ctx, repo.OperationLink{
		AccountID: acc.ID, OperationID: "op-es", ReferencePrefix: "ES-", IsDefault: true,
	}))
	return acc
}

func insertOrder(t *testing.T, store *repo.SQLiteRepository, o repo.Order) *repo.Order {
	t.Helper()
	created, err := store.InsertOrder(context.Background(), o)
	require.NoError(t, err)
	return created
}

func TestNextStatusNeverMovesBackwards(t *testing.T) {
	assert.Equal(t, "", NextStatus("shipped", status.Pending))
	assert.Equal(t, "pending", NextStatus("pending", status.Pending))
	assert.Equal(t, "pending", NextStatus("", status.Pending))
	assert.Equal(t, "delivered", NextStatus("shipped", status.Delivered))
	assert.Equal(t, "cancelled", NextStatus("confirmed", status.Cancelled))
	assert.Equal(t, "", NextStatus("delivered", status.Shipped))
	assert.Equal(t, "", NextStatus("shipped", status.Confirmed))
	assert.Equal(t, "returned", NextStatus("delivered", status.Returned))
	assert.Equal(t, "shipped", NextStatus("awaiting_payment", status.Shipped))
}

func TestStageSkipsRecordsWithoutExternalID(t *testing.T) {
	store := newStore(t)
	acc := seedAccount(t, store, time.Now())
	stager := NewStager(store, discardLogger(), nil)

	records := []provider.RawOrder{
		{Provider: provider.FHB, ExternalID: "A1", Status: "sent"},
		{Provider: provider.FHB, ExternalID: "  "},
		{Provider: provider.FHB, ExternalID: "A2"},
	}
	res, err := stager.Stage(context.Background(), acc.ID, records)
	require.NoError(t, err)
	assert.Equal(t, StageResult{Created: 2, Skipped: 1}, res)

	res, err = stager.Stage(context.Background(), acc.ID, records[:1])
	require.NoError(t, err)
	assert.Equal(t, StageResult{Updated: 1}, res)
}

func TestReconcileUpdatesMatchedOrdersOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, time.Now())
	orderDay := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	byRef := insertOrder(t, store, repo.Order{
		OperationID: "op-es", ExternalReference: "1001", Status: "confirmed", CreatedAt: orderDay,
	})
	byPhone := insertOrder(t, store, repo.Order{
		OperationID: "op-es", CustomerPhone: "612345678", Status: "shipped", CreatedAt: orderDay,
	})

	ordered := orderDay.Add(2 * time.Hour)
	_, err := NewStager(store, discardLogger(), nil).Stage(ctx, acc.ID, []provider.RawOrder{
		{Provider: provider.FHB, ExternalID: "F-1", Reference: "ES-1001", Status: "delivered", TrackingNumber: "TRK1", OrderedAt: ordered},
		{Provider: provider.FHB, ExternalID: "F-2", Reference: "X-1", Status: "new", Recipient: provider.Recipient{Phone: "+34 612 345 678"}, OrderedAt: ordered},
		{Provider: provider.FHB, ExternalID: "F-3", Reference: "ES-4040", Status: "sent", OrderedAt: ordered},
	})
	require.NoError(t, err)

	rec := NewReconciler(store, 2, 7*24*time.Hour, discardLogger(), nil)
	res, err := rec.Reconcile(ctx, acc.ID, "fhb")
	require.NoError(t, err)
	assert.Len(t, res.Matched, 2)
	assert.Len(t, res.Unmatched, 1)

	got, err := store.GetOrder(ctx, byRef.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivered", got.Status)
	assert.Equal(t, "TRK1", got.TrackingNumber)
	require.NotNil(t, got.MatchedExternalID)
	assert.Equal(t, "F-1", *got.MatchedExternalID)
	require.NotNil(t, got.LastStatusUpdate)
	data, ok := got.ProviderData["fhb"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reference", data["match_rule"])
	assert.Equal(t, "delivered", data["external_status"])

	kept, err := store.GetOrder(ctx, byPhone.ID)
	require.NoError(t, err)
	assert.Equal(t, "shipped", kept.Status, "a pending provider status must not regress the order")
	require.NotNil(t, kept.MatchedExternalID)
	assert.Equal(t, "F-2", *kept.MatchedExternalID)

	left, err := store.ListUnprocessedStaging(ctx, acc.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "F-3", left[0].ExternalOrderID)

	again, err := rec.Reconcile(ctx, acc.ID, "fhb")
	require.NoError(t, err)
	assert.Empty(t, again.Matched)
	assert.Len(t, again.Unmatched, 1)
}

func TestReconcileWithoutLinksLeavesRowsUnprocessed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc, err := store.InsertAccount(ctx, repo.WarehouseAccount{ProviderKey: "european", DisplayName: "EU"})
	require.NoError(t, err)

	_, err = NewStager(store, discardLogger(), nil).Stage(ctx, acc.ID, []provider.RawOrder{
		{Provider: provider.European, ExternalID: "L-1"},
	})
	require.NoError(t, err)

	res, err := NewReconciler(store, 10, 0, discardLogger(), nil).Reconcile(ctx, acc.ID, "european")
	require.NoError(t, err)
	assert.Empty(t, res.Matched)
	assert.Len(t, res.Unmatched, 1)
}

func TestReconcileKeepsOrderLinkedToItsShipment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, time.Now())
	orderDay := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	ordered := orderDay.Add(time.Hour)

	order := insertOrder(t, store, repo.Order{
		OperationID: "op-es", ExternalReference: "1001", CustomerPhone: "612345678", Status: "confirmed", CreatedAt: orderDay,
	})
	stager := NewStager(store, discardLogger(), nil)
	rec := NewReconciler(store, 10, 7*24*time.Hour, discardLogger(), nil)

	_, err := stager.Stage(ctx, acc.ID, []provider.RawOrder{
		{Provider: provider.FHB, ExternalID: "F-1", Reference: "ES-1001", Status: "delivered", TrackingNumber: "TRK1", OrderedAt: ordered},
	})
	require.NoError(t, err)
	res, err := rec.Reconcile(ctx, acc.ID, "fhb")
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)

	_, err = stager.Stage(ctx, acc.ID, []provider.RawOrder{
		{Provider: provider.FHB, ExternalID: "F-9", Reference: "X-9", Status: "sent", TrackingNumber: "TRK9",
			Recipient: provider.Recipient{Phone: "+34 612 345 678"}, OrderedAt: ordered},
	})
	require.NoError(t, err)
	res, err = rec.Reconcile(ctx, acc.ID, "fhb")
	require.NoError(t, err)
	assert.Empty(t, res.Matched)
	assert.Len(t, res.Unmatched, 1)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MatchedExternalID)
	assert.Equal(t, "F-1", *got.MatchedExternalID)
	assert.Equal(t, "TRK1", got.TrackingNumber)
	assert.Equal(t, "delivered", got.Status)
}
