package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Accounts --

func (r *SQLiteRepository) InsertAccount(ctx context.Context, account WarehouseAccount) (*WarehouseAccount, error) {
	creds, err := toJSON(account.Credentials)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		creds = []byte("{}")
	}
	prepareAccount(&account)

	q := `
INSERT INTO warehouse_accounts (id, provider_key, display_name, credentials, status, initial_sync_status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + accountColumns + `;`
	created := account.CreatedAt.UTC()
	inserted, err := scanAccount(r.db.QueryRowContext(ctx, q,
		account.ID,
		account.ProviderKey,
		account.DisplayName,
		string(creds),
		account.Status,
		account.InitialSyncStatus,
		created,
		created,
	))
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*WarehouseAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM warehouse_accounts WHERE id = ? LIMIT 1;`
	account, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, notFound(err))
	}
	return account, nil
}

func (r *SQLiteRepository) ListActiveAccounts(ctx context.Context) ([]WarehouseAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM warehouse_accounts WHERE status = 'active' ORDER BY created_at ASC, id ASC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []WarehouseAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active accounts: %w", err)
	}
	return accounts, nil
}

func (r *SQLiteRepository) MarkInitialSyncStarted(ctx context.Context, id string) error {
	const q = `
UPDATE warehouse_accounts
SET initial_sync_status = 'in_progress', initial_sync_error = NULL, updated_at = ?
WHERE id = ?;
`
	return r.execOne(ctx, "mark initial sync started", "account "+id, q, time.Now().UTC(), id)
}

func (r *SQLiteRepository) MarkInitialSyncResult(ctx context.Context, id string, completed bool, errMsg *string, at time.Time) error {
	const q = `
UPDATE warehouse_accounts
SET initial_sync_completed_at = CASE WHEN ? AND initial_sync_completed_at IS NULL THEN ? ELSE initial_sync_completed_at END,
    initial_sync_completed = (initial_sync_completed OR ?),
    initial_sync_status = CASE WHEN ? THEN 'completed' ELSE 'failed' END,
    initial_sync_error = ?,
    updated_at = ?
WHERE id = ?;
`
	at = at.UTC()
	return r.execOne(ctx, "mark initial sync result", "account "+id, q, completed, at, completed, completed, errMsg, at, id)
}

func (r *SQLiteRepository) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE warehouse_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, at.UTC(), at.UTC(), id); err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

// -- Operation links --

func (r *SQLiteRepository) UpsertOperationLink(ctx context.Context, link OperationLink) error {
	const q = `
INSERT INTO operation_accounts (account_id, operation_id, reference_prefix, is_default, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (account_id, operation_id) DO UPDATE SET
    reference_prefix = excluded.reference_prefix,
    is_default = excluded.is_default;
`
	created := link.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, q, link.AccountID, link.OperationID, link.ReferencePrefix, link.IsDefault, created.UTC()); err != nil {
		return fmt.Errorf("upsert operation link: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListOperationLinks(ctx context.Context, accountID string) ([]OperationLink, error) {
	const q = `
SELECT account_id, operation_id, reference_prefix, is_default, created_at
FROM operation_accounts
WHERE account_id = ?
ORDER BY created_at ASC, operation_id ASC;
`
	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("list operation links: %w", err)
	}
	defer rows.Close()

	var links []OperationLink
	for rows.Next() {
		var l OperationLink
		if err := rows.Scan(&l.AccountID, &l.OperationID, &l.ReferencePrefix, &l.IsDefault, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation links: %w", err)
	}
	return links, nil
}

// -- Staging --

func (r *SQLiteRepository) UpsertStagingOrder(ctx context.Context, order StagingOrder) (UpsertOutcome, error) {
	if strings.TrimSpace(order.ExternalOrderID) == "" {
		return "", fmt.Errorf("upsert staging order: empty external order id")
	}
	recipient, items, payload, err := stagingJSON(order)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin staging upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM staging_orders WHERE account_id = ? AND external_order_id = ?`,
		order.AccountID, order.ExternalOrderID,
	).Scan(&existingID)

	outcome := UpsertUpdated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = UpsertCreated
		const insertQ = `
INSERT INTO staging_orders (
    id, account_id, provider_key, external_order_id, reference, external_status, confirmation_status,
    tracking_number, value, currency, recipient, items, raw_payload, ordered_at,
    processed_to_orders, processed_at, created_at, updated_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?);
`
		_, err = tx.ExecContext(ctx, insertQ,
			uuid.NewString(),
			order.AccountID,
			order.ProviderKey,
			order.ExternalOrderID,
			order.Reference,
			order.ExternalStatus,
			order.ConfirmationStatus,
			order.TrackingNumber,
			order.Value.String(),
			order.Currency,
			recipient,
			items,
			payload,
			utcPtr(order.OrderedAt),
			now,
			now,
		)
	case err == nil:
		const updateQ = `
UPDATE staging_orders
SET provider_key = ?, reference = ?, external_status = ?, confirmation_status = ?, tracking_number = ?,
    value = ?, currency = ?, recipient = ?, items = ?, raw_payload = ?,
    ordered_at = COALESCE(?, ordered_at),
    processed_to_orders = 0, processed_at = NULL, updated_at = ?
WHERE id = ?;
`
		_, err = tx.ExecContext(ctx, updateQ,
			order.ProviderKey,
			order.Reference,
			order.ExternalStatus,
			order.ConfirmationStatus,
			order.TrackingNumber,
			order.Value.String(),
			order.Currency,
			recipient,
			items,
			payload,
			utcPtr(order.OrderedAt),
			now,
			existingID,
		)
	}
	if err != nil {
		return "", fmt.Errorf("upsert staging order %s: %w", order.ExternalOrderID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit staging upsert: %w", err)
	}
	return outcome, nil
}

func (r *SQLiteRepository) GetStagingOrder(ctx context.Context, accountID, externalOrderID string) (*StagingOrder, error) {
	q := `SELECT ` + stagingColumns("value") + `
FROM staging_orders
WHERE account_id = ? AND external_order_id = ?
LIMIT 1;`
	order, err := scanStaging(r.db.QueryRowContext(ctx, q, accountID, externalOrderID))
	if err != nil {
		return nil, fmt.Errorf("get staging order: %w", notFound(err))
	}
	return order, nil
}

func (r *SQLiteRepository) ListUnprocessedStaging(ctx context.Context, accountID, afterID string, limit int) ([]StagingOrder, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + stagingColumns("value") + `
FROM staging_orders
WHERE account_id = ? AND processed_to_orders = 0 AND id > ?
ORDER BY id ASC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, accountID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed staging: %w", err)
	}
	defer rows.Close()

	var orders []StagingOrder
	for rows.Next() {
		order, err := scanStaging(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staging order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staging orders: %w", err)
	}
	return orders, nil
}

func (r *SQLiteRepository) MarkStagingProcessed(ctx context.Context, id string, linkedOrderID string, at time.Time) error {
	const q = `
UPDATE staging_orders
SET processed_to_orders = 1, processed_at = ?, linked_order_id = ?, updated_at = ?
WHERE id = ?;
`
	return r.execOne(ctx, "mark staging processed", "staging order "+id, q, at.UTC(), linkedOrderID, at.UTC(), id)
}

// -- Orders --

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	data, err := providerDataJSON(order.ProviderData)
	if err != nil {
		return nil, err
	}
	prepareOrder(&order)

	q := `
INSERT INTO orders (
    id, operation_id, external_reference, customer_name, customer_phone, customer_email, customer_city,
    status, tracking_number, provider_data, created_at, updated_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + orderColumns + `;`
	inserted, err := scanOrder(r.db.QueryRowContext(ctx, q,
		order.ID,
		order.OperationID,
		order.ExternalReference,
		order.CustomerName,
		order.CustomerPhone,
		order.CustomerEmail,
		order.CustomerCity,
		order.Status,
		order.TrackingNumber,
		data,
		order.CreatedAt,
		order.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ? LIMIT 1;`
	order, err := scanOrder(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, notFound(err))
	}
	return order, nil
}

func (r *SQLiteRepository) ListOrdersForOperations(ctx context.Context, operationIDs []string, since *time.Time) ([]Order, error) {
	if len(operationIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(operationIDs)+1)
	for _, id := range operationIDs {
		args = append(args, id)
	}
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE operation_id IN (` + placeholders(len(operationIDs)) + `)`
	if cutoff := utcPtr(since); cutoff != nil {
		q += ` AND created_at >= ?`
		args = append(args, *cutoff)
	}
	q += ` ORDER BY created_at DESC, id ASC;`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders for operations: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (r *SQLiteRepository) ApplyCarrierUpdate(ctx context.Context, update CarrierUpdate) error {
	data, err := providerDataJSON(update.ProviderData)
	if err != nil {
		return err
	}
	const q = `
UPDATE orders
SET last_status_update = CASE WHEN ? <> '' AND ? <> status THEN ? ELSE last_status_update END,
    status = CASE WHEN ? <> '' THEN ? ELSE status END,
    tracking_number = CASE WHEN ? <> '' THEN ? ELSE tracking_number END,
    provider_data = json_set(COALESCE(NULLIF(provider_data, ''), '{}'), '$."' || ? || '"', json(?)),
    matched_account_id = ?,
    matched_external_id = ?,
    matched_at = ?,
    updated_at = ?
WHERE id = ?;
`
	at := update.MatchedAt.UTC()
	return r.execOne(ctx, "apply carrier update", "order "+update.OrderID, q,
		update.Status, update.Status, at,
		update.Status, update.Status,
		update.TrackingNumber, update.TrackingNumber,
		update.ProviderKey, data,
		update.AccountID,
		update.ExternalID,
		at,
		time.Now().UTC(),
		update.OrderID,
	)
}

// -- Sync runs --

func (r *SQLiteRepository) InsertSyncRun(ctx context.Context, run SyncRun) (*SyncRun, error) {
	prepareSyncRun(&run)
	q := `
INSERT INTO sync_runs (id, account_id, sync_type, status, started_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + syncRunColumns + `;`
	inserted, err := scanSyncRun(r.db.QueryRowContext(ctx, q, run.ID, run.AccountID, string(run.SyncType), run.Status, run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert sync run: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) FinishSyncRun(ctx context.Context, run SyncRun) error {
	const q = `
UPDATE sync_runs
SET status = ?, orders_processed = ?, orders_created = ?, orders_updated = ?, orders_skipped = ?,
    orders_unmatched = ?, duration_ms = ?, error_message = ?, completed_at = ?
WHERE id = ?;
`
	return r.execOne(ctx, "finish sync run", "sync run "+run.ID, q,
		run.Status,
		run.OrdersProcessed,
		run.OrdersCreated,
		run.OrdersUpdated,
		run.OrdersSkipped,
		run.OrdersUnmatched,
		run.DurationMS,
		run.ErrorMessage,
		utcPtr(run.CompletedAt),
		run.ID,
	)
}

func (r *SQLiteRepository) ListSyncRuns(ctx context.Context, accountID string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + syncRunColumns + `
FROM sync_runs
WHERE (? = '' OR account_id = ?)
ORDER BY started_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, accountID, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

func (r *SQLiteRepository) execOne(ctx context.Context, op, subject, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}
	return nil
}
