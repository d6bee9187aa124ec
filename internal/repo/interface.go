package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Warehouse accounts
	InsertAccount(ctx context.Context, account WarehouseAccount) (*WarehouseAccount, error)
	GetAccount(ctx context.Context, id string) (*WarehouseAccount, error)
	ListActiveAccounts(ctx context.Context) ([]WarehouseAccount, error)
	MarkInitialSyncStarted(ctx context.Context, id string) error
	MarkInitialSyncResult(ctx context.Context, id string, completed bool, errMsg *string, at time.Time) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error

	// Operation links
	UpsertOperationLink(ctx context.Context, link OperationLink) error
	ListOperationLinks(ctx context.Context, accountID string) ([]OperationLink, error)

	// Staging
	UpsertStagingOrder(ctx context.Context, order StagingOrder) (UpsertOutcome, error)
	GetStagingOrder(ctx context.Context, accountID, externalOrderID string) (*StagingOrder, error)
	ListUnprocessedStaging(ctx context.Context, accountID, afterID string, limit int) ([]StagingOrder, error)
	MarkStagingProcessed(ctx context.Context, id string, linkedOrderID string, at time.Time) error

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersForOperations(ctx context.Context, operationIDs []string, since *time.Time) ([]Order, error)
	ApplyCarrierUpdate(ctx context.Context, update CarrierUpdate) error

	// Sync runs
	InsertSyncRun(ctx context.Context, run SyncRun) (*SyncRun, error)
	FinishSyncRun(ctx context.Context, run SyncRun) error
	ListSyncRuns(ctx context.Context, accountID string, limit int) ([]SyncRun, error)
}
