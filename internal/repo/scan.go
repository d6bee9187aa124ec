package repo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, provider_key, display_name, credentials, status, initial_sync_completed,
    initial_sync_completed_at, initial_sync_status, initial_sync_error, last_sync_at, created_at, updated_at`

func scanAccount(row rowScanner) (*WarehouseAccount, error) {
	var a WarehouseAccount
	var creds []byte
	if err := row.Scan(
		&a.ID, &a.ProviderKey, &a.DisplayName, &creds, &a.Status, &a.InitialSyncCompleted,
		&a.InitialSyncCompletedAt, &a.InitialSyncStatus, &a.InitialSyncError, &a.LastSyncAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Credentials = fromJSON(creds)
	return &a, nil
}

// stagingColumns lists staging_orders columns; valueExpr lets Postgres cast
// the NUMERIC column to text.
func stagingColumns(valueExpr string) string {
	return `id, account_id, provider_key, external_order_id, reference, external_status, confirmation_status,
    tracking_number, ` + valueExpr + `, currency, recipient, items, raw_payload, ordered_at, processed_to_orders,
    processed_at, linked_order_id, created_at, updated_at`
}

func scanStaging(row rowScanner) (*StagingOrder, error) {
	var o StagingOrder
	var value string
	var recipient, items, payload []byte
	if err := row.Scan(
		&o.ID, &o.AccountID, &o.ProviderKey, &o.ExternalOrderID, &o.Reference, &o.ExternalStatus, &o.ConfirmationStatus,
		&o.TrackingNumber, &value, &o.Currency, &recipient, &items, &payload, &o.OrderedAt, &o.ProcessedToOrders,
		&o.ProcessedAt, &o.LinkedOrderID, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Value = parseDecimal(value)
	if len(recipient) > 0 {
		if err := json.Unmarshal(recipient, &o.Recipient); err != nil {
			return nil, fmt.Errorf("decode recipient: %w", err)
		}
	}
	o.Items = json.RawMessage(items)
	o.RawPayload = json.RawMessage(payload)
	return &o, nil
}

const orderColumns = `id, operation_id, external_reference, customer_name, customer_phone, customer_email, customer_city,
    status, tracking_number, provider_data, matched_account_id, matched_external_id, matched_at, last_status_update,
    created_at, updated_at`

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var data []byte
	if err := row.Scan(
		&o.ID, &o.OperationID, &o.ExternalReference, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail, &o.CustomerCity,
		&o.Status, &o.TrackingNumber, &data, &o.MatchedAccountID, &o.MatchedExternalID, &o.MatchedAt, &o.LastStatusUpdate,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.ProviderData = fromJSON(data)
	return &o, nil
}

const syncRunColumns = `id, account_id, sync_type, status, orders_processed, orders_created, orders_updated,
    orders_skipped, orders_unmatched, duration_ms, error_message, started_at, completed_at`

func scanSyncRun(row rowScanner) (*SyncRun, error) {
	var run SyncRun
	var syncType string
	if err := row.Scan(
		&run.ID, &run.AccountID, &syncType, &run.Status, &run.OrdersProcessed, &run.OrdersCreated, &run.OrdersUpdated,
		&run.OrdersSkipped, &run.OrdersUnmatched, &run.DurationMS, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt,
	); err != nil {
		return nil, err
	}
	run.SyncType = SyncType(syncType)
	return &run, nil
}

// stagingJSON renders the JSON blobs of a staging row, defaulting empty ones.
func stagingJSON(order StagingOrder) (recipient, items, payload string, err error) {
	r, err := json.Marshal(order.Recipient)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal recipient: %w", err)
	}
	items = "[]"
	if len(order.Items) > 0 && json.Valid(order.Items) {
		items = string(order.Items)
	}
	payload = "{}"
	if len(order.RawPayload) > 0 && json.Valid(order.RawPayload) {
		payload = string(order.RawPayload)
	}
	return string(r), items, payload, nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return m
}

func jsonParam(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
