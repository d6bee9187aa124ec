package repo

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Account statuses.
const (
	AccountActive   = "active"
	AccountInactive = "inactive"
)

// Initial sync progress values stored in warehouse_accounts.initial_sync_status.
const (
	InitialSyncPending    = "pending"
	InitialSyncInProgress = "in_progress"
	InitialSyncCompleted  = "completed"
	InitialSyncFailed     = "failed"
)

// SyncType is the scheduling tier a run belongs to.
type SyncType string

const (
	SyncInitial SyncType = "initial"
	SyncDeep    SyncType = "deep"
	SyncFast    SyncType = "fast"
)

// Valid reports whether t is a known tier.
func (t SyncType) Valid() bool {
	switch t {
	case SyncInitial, SyncDeep, SyncFast:
		return true
	default:
		return false
	}
}

// Sync run statuses.
const (
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// WarehouseAccount is one credentialed connection to a provider.
type WarehouseAccount struct {
	ID                     string
	ProviderKey            string
	DisplayName            string
	Credentials            map[string]any
	Status                 string
	InitialSyncCompleted   bool
	InitialSyncCompletedAt *time.Time
	InitialSyncStatus      *string
	InitialSyncError       *string
	LastSyncAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// OperationLink attributes a shared account's orders to a tenant operation.
type OperationLink struct {
	AccountID       string
	OperationID     string
	ReferencePrefix string
	IsDefault       bool
	CreatedAt       time.Time
}

// SyncRun is the append-only log row of one account sync pass.
type SyncRun struct {
	ID              string
	AccountID       string
	SyncType        SyncType
	Status          string
	OrdersProcessed int
	OrdersCreated   int
	OrdersUpdated   int
	OrdersSkipped   int
	OrdersUnmatched int
	DurationMS      int64
	ErrorMessage    *string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// StagingOrder is a provider record persisted before reconciliation.
type StagingOrder struct {
	ID                 string
	AccountID          string
	ProviderKey        string
	ExternalOrderID    string
	Reference          string
	ExternalStatus     string
	ConfirmationStatus string
	TrackingNumber     string
	Value              decimal.Decimal
	Currency           string
	Recipient          StagingRecipient
	Items              json.RawMessage
	RawPayload         json.RawMessage
	OrderedAt          *time.Time
	ProcessedToOrders  bool
	ProcessedAt        *time.Time
	LinkedOrderID      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StagingRecipient is the recipient blob stored on staging rows.
type StagingRecipient struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	City       string `json:"city,omitempty"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// UpsertOutcome tells whether a staging upsert inserted a new row.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
)

// Order is the internal order row this engine updates. Creation belongs to
// the order management domain; InsertOrder exists for fixtures and imports.
type Order struct {
	ID                string
	OperationID       string
	ExternalReference string
	CustomerName      string
	CustomerPhone     string
	CustomerEmail     string
	CustomerCity      string
	Status            string
	TrackingNumber    string
	ProviderData      map[string]any
	MatchedAccountID  *string
	MatchedExternalID *string
	MatchedAt         *time.Time
	LastStatusUpdate  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CarrierUpdate is what reconciliation writes onto a matched order.
// Empty Status or TrackingNumber leave the stored value untouched.
type CarrierUpdate struct {
	OrderID        string
	Status         string
	TrackingNumber string
	AccountID      string
	ExternalID     string
	ProviderKey    string
	ProviderData   map[string]any
	MatchedAt      time.Time
}
