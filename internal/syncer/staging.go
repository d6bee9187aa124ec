package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
)

// StagingStore persists provider records before reconciliation.
type StagingStore interface {
	UpsertStagingOrder(ctx context.Context, order repo.StagingOrder) (repo.UpsertOutcome, error)
}

// StageResult counts the outcome of one staging batch.
type StageResult struct {
	Created int
	Updated int
	Skipped int
}

// Stager writes fetched records into the staging table.
type Stager struct {
	store   StagingStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStager wires a Stager to store.
func NewStager(store StagingStore, logger *slog.Logger, m *metrics.Metrics) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{store: store, logger: logger.With("component", "stager"), metrics: m}
}

// Stage upserts records for account. Records without an external id are
// skipped. The first store error stops the batch and is returned with the
// counts so far.
func (s *Stager) Stage(ctx context.Context, accountID string, records []provider.RawOrder) (StageResult, error) {
	var res StageResult
	for _, rec := range records {
		if strings.TrimSpace(rec.ExternalID) == "" {
			res.Skipped++
			s.count("skipped")
			s.logger.Debug("skipping provider record without external id",
				"account_id", accountID, "provider", string(rec.Provider), "reference", rec.Reference)
			continue
		}
		order, err := toStaging(accountID, rec)
		if err != nil {
			res.Skipped++
			s.count("skipped")
			s.logger.Warn("skipping undecodable provider record",
				"account_id", accountID, "external_id", rec.ExternalID, "error", err)
			continue
		}
		outcome, err := s.store.UpsertStagingOrder(ctx, order)
		if err != nil {
			return res, fmt.Errorf("stage %s: %w", rec.ExternalID, err)
		}
		switch outcome {
		case repo.UpsertCreated:
			res.Created++
		default:
			res.Updated++
		}
		s.count(string(outcome))
	}
	return res, nil
}

func (s *Stager) count(outcome string) {
	if s.metrics != nil {
		s.metrics.StagingUpserts.WithLabelValues(outcome).Inc()
	}
}

func toStaging(accountID string, rec provider.RawOrder) (repo.StagingOrder, error) {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return repo.StagingOrder{}, fmt.Errorf("encode items: %w", err)
	}
	if rec.Items == nil {
		items = []byte("[]")
	}
	order := repo.StagingOrder{
		AccountID:          accountID,
		ProviderKey:        string(rec.Provider),
		ExternalOrderID:    strings.TrimSpace(rec.ExternalID),
		Reference:          rec.Reference,
		ExternalStatus:     rec.Status,
		ConfirmationStatus: rec.Confirmation,
		TrackingNumber:     rec.TrackingNumber,
		Value:              rec.Value,
		Currency:           rec.Currency,
		Recipient: repo.StagingRecipient{
			Name:       rec.Recipient.Name,
			Phone:      rec.Recipient.Phone,
			Email:      rec.Recipient.Email,
			City:       rec.Recipient.City,
			Street:     rec.Recipient.Street,
			PostalCode: rec.Recipient.PostalCode,
			Country:    rec.Recipient.Country,
		},
		Items:      items,
		RawPayload: rec.Payload,
	}
	if !rec.OrderedAt.IsZero() {
		t := rec.OrderedAt.UTC()
		order.OrderedAt = &t
	}
	return order, nil
}
