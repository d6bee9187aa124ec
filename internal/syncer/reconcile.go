package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/status"
)

// ReconcileStore is the slice of the repository the reconciler uses.
type ReconcileStore interface {
	ListOperationLinks(ctx context.Context, accountID string) ([]repo.OperationLink, error)
	ListUnprocessedStaging(ctx context.Context, accountID, afterID string, limit int) ([]repo.StagingOrder, error)
	ListOrdersForOperations(ctx context.Context, operationIDs []string, since *time.Time) ([]repo.Order, error)
	ApplyCarrierUpdate(ctx context.Context, update repo.CarrierUpdate) error
	MarkStagingProcessed(ctx context.Context, id string, linkedOrderID string, at time.Time) error
}

// MatchedPair links a staging row to the order it updated.
type MatchedPair struct {
	StagingID string
	OrderID   string
	Rule      MatchRule
}

// ReconcileResult lists what one pass matched and left unlinked.
type ReconcileResult struct {
	Matched   []MatchedPair
	Unmatched []string
}

// Reconciler links unprocessed staging rows of an account to internal
// orders and writes carrier status back onto them. It never creates orders.
type Reconciler struct {
	store     ReconcileStore
	batchSize int
	lookback  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewReconciler pages staging rows batchSize at a time and loads candidate
// orders created up to lookback before the oldest staged order date.
func NewReconciler(store ReconcileStore, batchSize int, lookback time.Duration, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     store,
		batchSize: batchSize,
		lookback:  lookback,
		logger:    logger.With("component", "reconciler"),
		metrics:   m,
		now:       time.Now,
	}
}

// Reconcile processes every unprocessed staging row of account.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, providerKey string) (ReconcileResult, error) {
	var res ReconcileResult

	links, err := r.store.ListOperationLinks(ctx, accountID)
	if err != nil {
		return res, fmt.Errorf("load operation links: %w", err)
	}
	if len(links) == 0 {
		r.logger.Warn("account has no linked operations; staging rows stay unlinked", "account_id", accountID)
	}
	operationIDs := make([]string, 0, len(links))
	for _, l := range links {
		operationIDs = append(operationIDs, l.OperationID)
	}
	mapper := status.ForProvider(providerKey)

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := r.store.ListUnprocessedStaging(ctx, accountID, afterID, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("list unprocessed staging: %w", err)
		}
		if len(batch) == 0 {
			return res, nil
		}
		afterID = batch[len(batch)-1].ID

		var orders []repo.Order
		if len(operationIDs) > 0 {
			orders, err = r.store.ListOrdersForOperations(ctx, operationIDs, r.since(batch))
			if err != nil {
				return res, fmt.Errorf("load candidate orders: %w", err)
			}
		}
		matcher := NewMatcher(links, orders)

		for _, row := range batch {
			order, rule, ok := matcher.Match(row)
			if !ok {
				res.Unmatched = append(res.Unmatched, row.ID)
				r.count("unmatched")
				r.logger.Debug("no internal order matched staging row",
					"account_id", accountID, "external_id", row.ExternalOrderID, "reference", row.Reference)
				continue
			}
			if err := r.apply(ctx, accountID, providerKey, mapper, row, order, rule); err != nil {
				return res, err
			}
			matcher.Record(order.ID, accountID, row.ExternalOrderID)
			res.Matched = append(res.Matched, MatchedPair{StagingID: row.ID, OrderID: order.ID, Rule: rule})
			r.count(string(rule))
		}

		if len(batch) < r.batchSize {
			return res, nil
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, accountID, providerKey string, mapper status.Mapper, row repo.StagingOrder, order repo.Order, rule MatchRule) error {
	now := r.now().UTC()
	mapped := mapper.Map(status.Observation{Delivery: row.ExternalStatus, Confirmation: row.ConfirmationStatus})

	update := repo.CarrierUpdate{
		OrderID:        order.ID,
		Status:         NextStatus(order.Status, mapped),
		TrackingNumber: row.TrackingNumber,
		AccountID:      accountID,
		ExternalID:     row.ExternalOrderID,
		ProviderKey:    providerKey,
		ProviderData:   providerData(row, rule, now),
		MatchedAt:      now,
	}
	if err := r.store.ApplyCarrierUpdate(ctx, update); err != nil {
		return fmt.Errorf("update order %s from %s: %w", order.ID, row.ExternalOrderID, err)
	}
	if err := r.store.MarkStagingProcessed(ctx, row.ID, order.ID, now); err != nil {
		return fmt.Errorf("mark staging %s processed: %w", row.ID, err)
	}
	r.logger.Debug("staging row reconciled",
		"account_id", accountID, "external_id", row.ExternalOrderID, "order_id", order.ID,
		"rule", string(rule), "status", update.Status)
	return nil
}

// NextStatus returns the status to write onto an order, or "" to keep the
// current one. Carrier data never moves an order back in its lifecycle.
func NextStatus(current string, mapped status.Status) string {
	if status.Regresses(current, mapped) {
		return ""
	}
	return string(mapped)
}

// since is the oldest staged order date in batch minus the lookback, or nil
// when any row lacks a date.
func (r *Reconciler) since(batch []repo.StagingOrder) *time.Time {
	var oldest time.Time
	for _, row := range batch {
		if row.OrderedAt == nil {
			return nil
		}
		if oldest.IsZero() || row.OrderedAt.Before(oldest) {
			oldest = *row.OrderedAt
		}
	}
	if oldest.IsZero() {
		return nil
	}
	cutoff := oldest.Add(-r.lookback)
	return &cutoff
}

func (r *Reconciler) count(rule string) {
	if r.metrics != nil {
		r.metrics.ReconcileResults.WithLabelValues(rule).Inc()
	}
}

func providerData(row repo.StagingOrder, rule MatchRule, at time.Time) map[string]any {
	data := map[string]any{
		"external_order_id":   row.ExternalOrderID,
		"reference":           row.Reference,
		"external_status":     row.ExternalStatus,
		"confirmation_status": row.ConfirmationStatus,
		"tracking_number":     row.TrackingNumber,
		"match_rule":          string(rule),
		"synced_at":           at.Format(time.RFC3339),
	}
	if len(row.RawPayload) > 0 && json.Valid(row.RawPayload) {
		data["payload"] = row.RawPayload
	}
	return data
}
