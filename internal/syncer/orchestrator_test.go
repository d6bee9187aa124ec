package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
)

var syncNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(store Store, adapter provider.Adapter) *Orchestrator {
	o := NewOrchestrator(store, openerFunc(func(provider.Account) (provider.Adapter, error) {
		return adapter, nil
	}), Config{
		Plan:              DefaultPlanConfig(),
		PageCeiling:       5,
		ReconcileBatch:    100,
		ReconcileLookback: 30 * 24 * time.Hour,
	}, discardLogger(), nil)
	o.now = func() time.Time { return syncNow }
	return o
}

// hotDayAdapter serves three January records, one carrying an ES- reference,
// and a March day far above the page ceiling.
func hotDayAdapter() *fakeAdapter {
	a := newFakeAdapter(10)
	a.perDay[date(2024, 1, 5)] = 3
	a.perDay[date(2024, 3, 15)] = 120
	a.build = func(d time.Time, i int) provider.RawOrder {
		rec := provider.RawOrder{
			Provider:   provider.FHB,
			ExternalID: fmt.Sprintf("%s-%03d", d.Format(provider.DateLayout), i),
			Status:     "sent",
			OrderedAt:  d.Add(9 * time.Hour),
		}
		if d.Equal(date(2024, 1, 5)) && i == 0 {
			rec.Reference = "ES-1001"
		}
		return rec
	}
	return a
}

func TestInitialRunWithSingleDayOverflowCompletes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, date(2024, 1, 1))
	order := insertOrder(t, store, repo.Order{OperationID: "op-es", ExternalReference: "1001", Status: "confirmed", CreatedAt: date(2024, 1, 1)})

	report, err := newTestOrchestrator(store, hotDayAdapter()).Run(ctx, acc.ID, repo.SyncInitial)
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Len(t, report.Windows, 3)
	assert.Zero(t, report.FailedWindows)
	last := report.Windows[2]
	assert.True(t, last.Complete)
	assert.True(t, last.HitPageCeiling)
	assert.Equal(t, 50, last.Fetched)
	assert.LessOrEqual(t, last.Splits, MaxSplitDepth(last.Window.Days()))

	assert.Equal(t, repo.RunCompleted, report.Run.Status)
	assert.Equal(t, 53, report.Run.OrdersProcessed)
	assert.Equal(t, 53, report.Run.OrdersCreated)
	assert.Equal(t, 1, report.Run.OrdersUpdated)
	assert.Equal(t, 52, report.Run.OrdersUnmatched)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.InitialSyncCompleted)
	require.NotNil(t, got.InitialSyncStatus)
	assert.Equal(t, repo.InitialSyncCompleted, *got.InitialSyncStatus)
	assert.NotNil(t, got.LastSyncAt)

	updated, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "shipped", updated.Status)

	runs, err := store.ListSyncRuns(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, repo.RunCompleted, runs[0].Status)
	assert.Equal(t, 53, runs[0].OrdersProcessed)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestFailedWindowKeepsInitialSyncIncomplete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, date(2024, 1, 1))

	a := hotDayAdapter()
	a.fail = func(from, _ time.Time, _ int) error {
		if from.Equal(date(2023, 12, 22)) {
			return fmt.Errorf("fhb: status 502: %w", errors.New("bad gateway"))
		}
		return nil
	}

	report, err := newTestOrchestrator(store, a).Run(ctx, acc.ID, repo.SyncInitial)
	require.ErrorIs(t, err, ErrRunFailed)
	require.NotNil(t, report)
	assert.Len(t, report.Windows, 3, "later windows still run")
	assert.Equal(t, 1, report.FailedWindows)
	assert.False(t, report.Windows[0].Complete)
	assert.Equal(t, repo.RunFailed, report.Run.Status)
	require.NotNil(t, report.Run.ErrorMessage)
	assert.Contains(t, *report.Run.ErrorMessage, "bad gateway")

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, got.InitialSyncCompleted)
	require.NotNil(t, got.InitialSyncStatus)
	assert.Equal(t, repo.InitialSyncFailed, *got.InitialSyncStatus)

	staged, err := store.GetStagingOrder(ctx, acc.ID, "2024-03-15-000")
	require.NoError(t, err, "records of healthy windows are staged")
	assert.Equal(t, "sent", staged.ExternalStatus)
}

func TestInitialCompletionIsNotUndoneByLaterFailure(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, date(2024, 1, 1))

	_, err := newTestOrchestrator(store, hotDayAdapter()).Run(ctx, acc.ID, repo.SyncInitial)
	require.NoError(t, err)

	broken := hotDayAdapter()
	broken.authErr = provider.ErrUnauthorized
	_, err = newTestOrchestrator(store, broken).Run(ctx, acc.ID, repo.SyncInitial)
	require.ErrorIs(t, err, ErrRunFailed)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.InitialSyncCompleted)
}

func TestPanicBecomesFailedRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc := seedAccount(t, store, date(2024, 1, 1))

	a := newFakeAdapter(10)
	a.perDay[date(2024, 3, 18)] = 1
	a.build = func(time.Time, int) provider.RawOrder { panic("decoder exploded") }

	report, err := newTestOrchestrator(store, a).Run(ctx, acc.ID, repo.SyncFast)
	require.ErrorIs(t, err, ErrRunFailed)
	require.NotNil(t, report)
	assert.Equal(t, repo.RunFailed, report.Run.Status)
	assert.Contains(t, *report.Run.ErrorMessage, "decoder exploded")

	runs, err := store.ListSyncRuns(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, repo.RunFailed, runs[0].Status)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.InitialSyncCompletedAt, "fast runs never touch initial bookkeeping")
}

func TestInactiveAccountIsRefused(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	acc, err := store.InsertAccount(ctx, repo.WarehouseAccount{ProviderKey: "fhb", DisplayName: "off", Status: repo.AccountInactive})
	require.NoError(t, err)

	report, err := newTestOrchestrator(store, newFakeAdapter(10)).Run(ctx, acc.ID, repo.SyncFast)
	assert.ErrorIs(t, err, ErrAccountInactive)
	assert.Nil(t, report)

	runs, err := store.ListSyncRuns(ctx, acc.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRejectsUnknownTypeAndAccount(t *testing.T) {
	store := newStore(t)
	o := newTestOrchestrator(store, newFakeAdapter(10))

	_, err := o.Run(context.Background(), "missing", repo.SyncFast)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = o.Run(context.Background(), "missing", repo.SyncType("hourly"))
	assert.Error(t, err)
}
