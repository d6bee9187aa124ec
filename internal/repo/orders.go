package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertOrder stores an order row. Used by imports and fixtures; the sync
// engine itself only updates existing orders.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	data, err := toJSON(order.ProviderData)
	if err != nil {
		return nil, err
	}
	prepareOrder(&order)

	q := `
INSERT INTO orders (
    id, operation_id, external_reference, customer_name, customer_phone, customer_email, customer_city,
    status, tracking_number, provider_data, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10::jsonb, '{}'::jsonb), $11, $11)
RETURNING ` + orderColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		order.ID,
		order.OperationID,
		order.ExternalReference,
		order.CustomerName,
		order.CustomerPhone,
		order.CustomerEmail,
		order.CustomerCity,
		order.Status,
		order.TrackingNumber,
		jsonParam(data),
		order.CreatedAt,
	)
	inserted, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

// GetOrder retrieves an order by id.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 LIMIT 1;`
	order, err := scanOrder(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, notFound(err))
	}
	return order, nil
}

// ListOrdersForOperations returns the match candidates of the given
// operations, optionally restricted to orders created since a cutoff.
func (r *PostgresRepository) ListOrdersForOperations(ctx context.Context, operationIDs []string, since *time.Time) ([]Order, error) {
	if len(operationIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE operation_id = ANY($1::text[])
  AND ($2::timestamptz IS NULL OR created_at >= $2::timestamptz)
ORDER BY created_at DESC, id ASC;`
	rows, err := r.pool.Query(ctx, q, operationIDs, utcPtr(since))
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

// ApplyCarrierUpdate writes carrier status, tracking and provider data onto a
// matched order. Empty status or tracking leave the stored value alone.
func (r *PostgresRepository) ApplyCarrierUpdate(ctx context.Context, update CarrierUpdate) error {
	data, err := providerDataJSON(update.ProviderData)
	if err != nil {
		return err
	}
	const q = `
UPDATE orders
SET last_status_update = CASE
        WHEN $2::text <> '' AND $2::text <> status THEN $8::timestamptz
        ELSE last_status_update
    END,
    status = COALESCE(NULLIF($2::text, ''), status),
    tracking_number = COALESCE(NULLIF($3::text, ''), tracking_number),
    provider_data = COALESCE(provider_data, '{}'::jsonb) || jsonb_build_object($6::text, $7::jsonb),
    matched_account_id = $4,
    matched_external_id = $5,
    matched_at = $8::timestamptz,
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q,
		update.OrderID,
		update.Status,
		update.TrackingNumber,
		update.AccountID,
		update.ExternalID,
		update.ProviderKey,
		data,
		update.MatchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("apply carrier update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", update.OrderID, ErrNotFound)
	}
	return nil
}

func prepareOrder(order *Order) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = "pending"
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.CreatedAt = order.CreatedAt.UTC()
}

func providerDataJSON(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal provider data: %w", err)
	}
	return string(raw), nil
}
