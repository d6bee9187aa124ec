package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to the Postgres schema.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the postgres/ directory of filesystem.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	return ApplyMigrations(ctx, r.pool, sub)
}

// InsertAccount stores a warehouse account. A missing ID is generated.
func (r *PostgresRepository) InsertAccount(ctx context.Context, account WarehouseAccount) (*WarehouseAccount, error) {
	creds, err := toJSON(account.Credentials)
	if err != nil {
		return nil, err
	}
	prepareAccount(&account)

	q := `
INSERT INTO warehouse_accounts (id, provider_key, display_name, credentials, status, initial_sync_status, created_at, updated_at)
VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb), $5, $6, $7, $7)
RETURNING ` + accountColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		account.ID,
		account.ProviderKey,
		account.DisplayName,
		jsonParam(creds),
		account.Status,
		account.InitialSyncStatus,
		account.CreatedAt,
	)
	inserted, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return inserted, nil
}

// GetAccount loads one account by id.
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*WarehouseAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM warehouse_accounts WHERE id = $1 LIMIT 1;`
	account, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, notFound(err))
	}
	return account, nil
}

// ListActiveAccounts returns every account the scheduler should consider.
func (r *PostgresRepository) ListActiveAccounts(ctx context.Context) ([]WarehouseAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM warehouse_accounts WHERE status = 'active' ORDER BY created_at ASC, id ASC;`
	rows, err := r.pool.Query(ctx, q)
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

// MarkInitialSyncStarted flags the account's initial backfill as running.
func (r *PostgresRepository) MarkInitialSyncStarted(ctx context.Context, id string) error {
	const q = `
UPDATE warehouse_accounts
SET initial_sync_status = 'in_progress', initial_sync_error = NULL, updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark initial sync started: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkInitialSyncResult records the outcome of an initial backfill. A
// completed flag is never cleared once set.
func (r *PostgresRepository) MarkInitialSyncResult(ctx context.Context, id string, completed bool, errMsg *string, at time.Time) error {
	const q = `
UPDATE warehouse_accounts
SET initial_sync_completed = initial_sync_completed OR $2::boolean,
    initial_sync_completed_at = CASE WHEN $2::boolean AND initial_sync_completed_at IS NULL THEN $3::timestamptz ELSE initial_sync_completed_at END,
    initial_sync_status = CASE WHEN $2::boolean THEN 'completed' ELSE 'failed' END,
    initial_sync_error = $4,
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, completed, at.UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("mark initial sync result: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchLastSync stamps last_sync_at.
func (r *PostgresRepository) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE warehouse_accounts SET last_sync_at = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, at.UTC()); err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

// UpsertOperationLink attaches an account to an operation or updates the link.
func (r *PostgresRepository) UpsertOperationLink(ctx context.Context, link OperationLink) error {
	const q = `
INSERT INTO operation_accounts (account_id, operation_id, reference_prefix, is_default, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (account_id, operation_id) DO UPDATE SET
    reference_prefix = EXCLUDED.reference_prefix,
    is_default = EXCLUDED.is_default;
`
	if _, err := r.pool.Exec(ctx, q, link.AccountID, link.OperationID, link.ReferencePrefix, link.IsDefault); err != nil {
		return fmt.Errorf("upsert operation link: %w", err)
	}
	return nil
}

// ListOperationLinks returns every operation attached to the account.
func (r *PostgresRepository) ListOperationLinks(ctx context.Context, accountID string) ([]OperationLink, error) {
	const q = `
SELECT account_id, operation_id, reference_prefix, is_default, created_at
FROM operation_accounts
WHERE account_id = $1
ORDER BY created_at ASC, operation_id ASC;
`
	rows, err := r.pool.Query(ctx, q, accountID)
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

func prepareAccount(account *WarehouseAccount) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = AccountActive
	}
	if account.InitialSyncStatus == nil {
		pending := InitialSyncPending
		account.InitialSyncStatus = &pending
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
}
