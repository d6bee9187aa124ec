package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpsertStagingOrder writes a provider record keyed by (account, external id).
// Every write marks the row unprocessed so reconciliation sees fresh data.
func (r *PostgresRepository) UpsertStagingOrder(ctx context.Context, order StagingOrder) (UpsertOutcome, error) {
	if strings.TrimSpace(order.ExternalOrderID) == "" {
		return "", fmt.Errorf("upsert staging order: empty external order id")
	}
	recipient, items, payload, err := stagingJSON(order)
	if err != nil {
		return "", err
	}

	const q = `
INSERT INTO staging_orders (
    id, account_id, provider_key, external_order_id, reference, external_status, confirmation_status,
    tracking_number, value, currency, recipient, items, raw_payload, ordered_at,
    processed_to_orders, processed_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::jsonb, $12::jsonb, $13::jsonb, $14, FALSE, NULL, $15, $15)
ON CONFLICT (account_id, external_order_id) DO UPDATE SET
    provider_key = EXCLUDED.provider_key,
    reference = EXCLUDED.reference,
    external_status = EXCLUDED.external_status,
    confirmation_status = EXCLUDED.confirmation_status,
    tracking_number = EXCLUDED.tracking_number,
    value = EXCLUDED.value,
    currency = EXCLUDED.currency,
    recipient = EXCLUDED.recipient,
    items = EXCLUDED.items,
    raw_payload = EXCLUDED.raw_payload,
    ordered_at = COALESCE(EXCLUDED.ordered_at, staging_orders.ordered_at),
    processed_to_orders = FALSE,
    processed_at = NULL,
    updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted;
`
	var inserted bool
	err = r.pool.QueryRow(ctx, q,
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
		time.Now().UTC(),
	).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upsert staging order %s: %w", order.ExternalOrderID, err)
	}
	if inserted {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}

// GetStagingOrder loads the staging row of one external order.
func (r *PostgresRepository) GetStagingOrder(ctx context.Context, accountID, externalOrderID string) (*StagingOrder, error) {
	q := `SELECT ` + stagingColumns("value::text") + `
FROM staging_orders
WHERE account_id = $1 AND external_order_id = $2
LIMIT 1;`
	order, err := scanStaging(r.pool.QueryRow(ctx, q, accountID, externalOrderID))
	if err != nil {
		return nil, fmt.Errorf("get staging order: %w", notFound(err))
	}
	return order, nil
}

// ListUnprocessedStaging pages unprocessed rows of an account by id.
func (r *PostgresRepository) ListUnprocessedStaging(ctx context.Context, accountID, afterID string, limit int) ([]StagingOrder, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + stagingColumns("value::text") + `
FROM staging_orders
WHERE account_id = $1 AND processed_to_orders = FALSE AND id > $2
ORDER BY id ASC
LIMIT $3;`
	rows, err := r.pool.Query(ctx, q, accountID, afterID, limit)
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

// MarkStagingProcessed links a staging row to the order it updated.
func (r *PostgresRepository) MarkStagingProcessed(ctx context.Context, id string, linkedOrderID string, at time.Time) error {
	const q = `
UPDATE staging_orders
SET processed_to_orders = TRUE, processed_at = $3, linked_order_id = $2, updated_at = $3
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, linkedOrderID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark staging processed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("staging order %s: %w", id, ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
