package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertSyncRun opens a run log row.
func (r *PostgresRepository) InsertSyncRun(ctx context.Context, run SyncRun) (*SyncRun, error) {
	prepareSyncRun(&run)
	q := `
INSERT INTO sync_runs (id, account_id, sync_type, status, started_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + syncRunColumns + `;`
	inserted, err := scanSyncRun(r.pool.QueryRow(ctx, q, run.ID, run.AccountID, string(run.SyncType), run.Status, run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert sync run: %w", err)
	}
	return inserted, nil
}

// FinishSyncRun stores the final status and counters of a run.
func (r *PostgresRepository) FinishSyncRun(ctx context.Context, run SyncRun) error {
	const q = `
UPDATE sync_runs
SET status = $2,
    orders_processed = $3,
    orders_created = $4,
    orders_updated = $5,
    orders_skipped = $6,
    orders_unmatched = $7,
    duration_ms = $8,
    error_message = $9,
    completed_at = $10
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q,
		run.ID,
		run.Status,
		run.OrdersProcessed,
		run.OrdersCreated,
		run.OrdersUpdated,
		run.OrdersSkipped,
		run.OrdersUnmatched,
		run.DurationMS,
		run.ErrorMessage,
		utcPtr(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// ListSyncRuns returns the newest runs, optionally for a single account.
func (r *PostgresRepository) ListSyncRuns(ctx context.Context, accountID string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + syncRunColumns + `
FROM sync_runs
WHERE ($1 = '' OR account_id = $1)
ORDER BY started_at DESC, id DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, accountID, limit)
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

func prepareSyncRun(run *SyncRun) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStarted
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()
}
