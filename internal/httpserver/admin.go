package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/scheduler"
)

const maxRunsLimit = 200

type triggerRequest struct {
	SyncType string `json:"syncType"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	var req triggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tier := repo.SyncType(strings.ToLower(strings.TrimSpace(req.SyncType)))
	if tier == "" {
		tier = repo.SyncFast
	}

	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	if account.Status != repo.AccountActive {
		writeError(w, http.StatusConflict, "account is inactive")
		return
	}

	switch err := s.deps.Scheduler.Trigger(account.ID, tier); {
	case errors.Is(err, scheduler.ErrInvalidTier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, scheduler.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("manual sync trigger failed", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "trigger failed")
	default:
		writeJSONStatus(w, http.StatusAccepted, map[string]string{
			"status":     "queued",
			"account_id": account.ID,
			"sync_type":  string(tier),
		})
	}
}

type accountView struct {
	ID                     string     `json:"id"`
	ProviderKey            string     `json:"provider_key"`
	DisplayName            string     `json:"display_name"`
	Status                 string     `json:"status"`
	InitialSyncCompleted   bool       `json:"initial_sync_completed"`
	InitialSyncCompletedAt *time.Time `json:"initial_sync_completed_at,omitempty"`
	InitialSyncStatus      *string    `json:"initial_sync_status,omitempty"`
	InitialSyncError       *string    `json:"initial_sync_error,omitempty"`
	LastSyncAt             *time.Time `json:"last_sync_at,omitempty"`
}

type runView struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	SyncType        string     `json:"sync_type"`
	Status          string     `json:"status"`
	OrdersProcessed int        `json:"orders_processed"`
	OrdersCreated   int        `json:"orders_created"`
	OrdersUpdated   int        `json:"orders_updated"`
	OrdersSkipped   int        `json:"orders_skipped"`
	OrdersUnmatched int        `json:"orders_unmatched"`
	DurationMS      int64      `json:"duration_ms"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func newAccountView(a *repo.WarehouseAccount) accountView {
	return accountView{
		ID:                     a.ID,
		ProviderKey:            a.ProviderKey,
		DisplayName:            a.DisplayName,
		Status:                 a.Status,
		InitialSyncCompleted:   a.InitialSyncCompleted,
		InitialSyncCompletedAt: a.InitialSyncCompletedAt,
		InitialSyncStatus:      a.InitialSyncStatus,
		InitialSyncError:       a.InitialSyncError,
		LastSyncAt:             a.LastSyncAt,
	}
}

func newRunViews(runs []repo.SyncRun) []runView {
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView{
			ID:              r.ID,
			AccountID:       r.AccountID,
			SyncType:        string(r.SyncType),
			Status:          r.Status,
			OrdersProcessed: r.OrdersProcessed,
			OrdersCreated:   r.OrdersCreated,
			OrdersUpdated:   r.OrdersUpdated,
			OrdersSkipped:   r.OrdersSkipped,
			OrdersUnmatched: r.OrdersUnmatched,
			DurationMS:      r.DurationMS,
			ErrorMessage:    r.ErrorMessage,
			StartedAt:       r.StartedAt,
			CompletedAt:     r.CompletedAt,
		})
	}
	return out
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	runs, err := s.deps.Store.ListSyncRuns(r.Context(), account.ID, 10)
	if err != nil {
		s.logger.Error("failed listing sync runs", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed listing sync runs")
		return
	}
	writeJSON(w, map[string]any{
		"account": newAccountView(account),
		"runs":    newRunViews(runs),
	})
}

func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	runs, err := s.deps.Store.ListSyncRuns(r.Context(), accountID, limit)
	if err != nil {
		s.logger.Error("failed listing sync runs", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed listing sync runs")
		return
	}
	writeJSON(w, map[string]any{"runs": newRunViews(runs)})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	adapter, err := s.deps.Adapters.Open(provider.Account{
		ID:          account.ID,
		Key:         provider.ParseKey(account.ProviderKey),
		Credentials: account.Credentials,
	})
	if err != nil {
		writeJSONStatus(w, http.StatusUnprocessableEntity, provider.ConnectionResult{OK: false, Message: err.Error()})
		return
	}
	result := adapter.TestConnection(r.Context())
	s.logger.Info("connection tested", "account_id", account.ID, "provider", account.ProviderKey, "ok", result.OK)
	writeJSON(w, result)
}

func (s *Server) handleScheduler(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, scheduler.Snapshot{})
		return
	}
	writeJSON(w, s.deps.Scheduler.Snapshot())
}

func (s *Server) loadAccount(w http.ResponseWriter, r *http.Request) (*repo.WarehouseAccount, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	account, err := s.deps.Store.GetAccount(r.Context(), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
		return nil, false
	case err != nil:
		s.logger.Error("failed loading account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed loading account")
		return nil, false
	}
	return account, true
}
