// Package syncer runs one account sync pass: plan windows, fetch them with
// page-ceiling bisection, stage the records and reconcile them against
// internal orders.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
)

var (
	// ErrRunFailed wraps the summary of a run that ended in the failed state.
	ErrRunFailed = errors.New("sync run failed")
	// ErrAccountInactive is returned for accounts that must not be synced.
	ErrAccountInactive = errors.New("account inactive")
)

const maxErrorMessage = 2000

// Store is the repository surface the orchestrator needs.
type Store interface {
	StagingStore
	ReconcileStore
	GetAccount(ctx context.Context, id string) (*repo.WarehouseAccount, error)
	MarkInitialSyncStarted(ctx context.Context, id string) error
	MarkInitialSyncResult(ctx context.Context, id string, completed bool, errMsg *string, at time.Time) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error
	InsertSyncRun(ctx context.Context, run repo.SyncRun) (*repo.SyncRun, error)
	FinishSyncRun(ctx context.Context, run repo.SyncRun) error
}

// AdapterOpener builds the adapter of an account; *provider.Registry
// implements it.
type AdapterOpener interface {
	Open(account provider.Account) (provider.Adapter, error)
}

// Config tunes the orchestrator.
type Config struct {
	Plan              PlanConfig
	PageCeiling       int
	ReconcileBatch    int
	ReconcileLookback time.Duration
}

// WindowReport describes one top-level window of a run.
type WindowReport struct {
	Window         Window
	Fetched        int
	Pages          int
	Splits         int
	Complete       bool
	HitPageCeiling bool
	Staged         StageResult
	Matched        int
	Err            string
}

// Failed reports whether the window counts against run completion.
func (w WindowReport) Failed() bool {
	return !w.Complete || w.Err != ""
}

// Report is the full outcome of Run.
type Report struct {
	Run           repo.SyncRun
	Windows       []WindowReport
	FailedWindows int
}

// Orchestrator executes sync runs for single accounts.
type Orchestrator struct {
	store      Store
	adapters   AdapterOpener
	fetcher    *WindowFetcher
	stager     *Stager
	reconciler *Reconciler
	plan       PlanConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewOrchestrator wires the fetch, stage and reconcile stages to store.
func NewOrchestrator(store Store, adapters AdapterOpener, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Plan.WindowDays == 0 {
		cfg.Plan = DefaultPlanConfig()
	}
	return &Orchestrator{
		store:      store,
		adapters:   adapters,
		fetcher:    NewWindowFetcher(cfg.PageCeiling, logger, m),
		stager:     NewStager(store, logger, m),
		reconciler: NewReconciler(store, cfg.ReconcileBatch, cfg.ReconcileLookback, logger, m),
		plan:       cfg.Plan,
		logger:     logger.With("component", "orchestrator"),
		metrics:    m,
		now:        time.Now,
	}
}

// Run performs one sync pass of syncType for the account. The returned
// report is non-nil once a run row exists; a failed run also returns an
// error wrapping ErrRunFailed.
func (o *Orchestrator) Run(ctx context.Context, accountID string, syncType repo.SyncType) (*Report, error) {
	if !syncType.Valid() {
		return nil, fmt.Errorf("unknown sync type %q", syncType)
	}
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Status != repo.AccountActive {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, accountID)
	}

	started := o.now().UTC()
	run, err := o.store.InsertSyncRun(ctx, repo.SyncRun{
		AccountID: account.ID,
		SyncType:  syncType,
		Status:    repo.RunStarted,
		StartedAt: started,
	})
	if err != nil {
		return nil, fmt.Errorf("open sync run: %w", err)
	}

	logger := o.logger.With(
		"account_id", account.ID,
		"provider", account.ProviderKey,
		"sync_type", string(syncType),
		"run_id", run.ID,
	)
	logger.Info("sync run started")

	report := &Report{Run: *run}
	fatal := o.execute(ctx, logger, account, syncType, report)
	return o.finish(ctx, logger, account, report, fatal)
}

// execute runs every window. Panics are converted into a fatal error so a
// single account can never take the worker down.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, account *repo.WarehouseAccount, syncType repo.SyncType, report *Report) (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("panic: %v", r)
			logger.Error("sync run panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if syncType == repo.SyncInitial {
		if err := o.store.MarkInitialSyncStarted(ctx, account.ID); err != nil {
			return fmt.Errorf("mark initial sync started: %w", err)
		}
	}

	key := provider.ParseKey(account.ProviderKey)
	adapter, err := o.adapters.Open(provider.Account{ID: account.ID, Key: key, Credentials: account.Credentials})
	if err != nil {
		return err
	}
	if _, err := adapter.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate %s: %w", key, err)
	}

	windows := o.plan.Windows(syncType, account.CreatedAt, o.now())
	logger.Info("sync windows planned", "windows", len(windows))

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			for _, rest := range windows[i:] {
				report.Windows = append(report.Windows, WindowReport{Window: rest, Err: err.Error()})
				report.FailedWindows++
			}
			return fmt.Errorf("run interrupted: %w", err)
		}
		wr := o.runWindow(ctx, logger, adapter, account.ID, string(key), w, &report.Run)
		if wr.Failed() {
			report.FailedWindows++
		}
		report.Windows = append(report.Windows, wr)
	}
	return nil
}

func (o *Orchestrator) runWindow(ctx context.Context, logger *slog.Logger, adapter provider.Adapter, accountID, providerKey string, w Window, run *repo.SyncRun) WindowReport {
	wlog := logger.With("window_start", w.Start, "window_end", w.End)
	fetched := o.fetcher.Fetch(ctx, adapter, w)
	wr := WindowReport{
		Window:         w,
		Fetched:        len(fetched.Records),
		Pages:          fetched.Pages,
		Splits:         fetched.Splits,
		Complete:       fetched.Complete,
		HitPageCeiling: fetched.HitPageCeiling,
	}
	var errs []string
	if fetched.Err != nil {
		errs = append(errs, fetched.Err.Error())
	}
	run.OrdersProcessed += len(fetched.Records)

	staged, err := o.stager.Stage(ctx, accountID, fetched.Records)
	wr.Staged = staged
	run.OrdersCreated += staged.Created
	run.OrdersSkipped += staged.Skipped
	if err != nil {
		errs = append(errs, err.Error())
	}

	rec, err := o.reconciler.Reconcile(ctx, accountID, providerKey)
	wr.Matched = len(rec.Matched)
	run.OrdersUpdated += len(rec.Matched)
	run.OrdersUnmatched = len(rec.Unmatched)
	if err != nil {
		errs = append(errs, fmt.Sprintf("reconcile: %v", err))
	}

	if len(errs) > 0 {
		wr.Err = fmt.Sprintf("window %s: %s", w, strings.Join(errs, "; "))
	}
	attrs := []any{
		"fetched", wr.Fetched, "pages", wr.Pages, "splits", wr.Splits,
		"created", staged.Created, "updated", staged.Updated, "skipped", staged.Skipped,
		"matched", wr.Matched, "unmatched", len(rec.Unmatched),
		"complete", wr.Complete, "hit_page_ceiling", wr.HitPageCeiling,
	}
	if wr.Failed() {
		wlog.Warn("sync window failed", append(attrs, "error", wr.Err)...)
	} else {
		wlog.Info("sync window done", attrs...)
	}
	return wr
}

// finish writes the terminal run state. Bookkeeping uses a context detached
// from ctx so a run that hit its deadline is still recorded.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, account *repo.WarehouseAccount, report *Report, fatal error) (*Report, error) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	end := o.now().UTC()
	run := &report.Run
	run.CompletedAt = &end
	run.DurationMS = end.Sub(run.StartedAt).Milliseconds()

	var problems []string
	if fatal != nil {
		problems = append(problems, fatal.Error())
	}
	for _, w := range report.Windows {
		if w.Failed() {
			msg := w.Err
			if msg == "" {
				msg = fmt.Sprintf("window %s incomplete", w.Window)
			}
			problems = append(problems, msg)
		}
	}

	succeeded := fatal == nil && report.FailedWindows == 0
	run.Status = repo.RunCompleted
	if !succeeded {
		run.Status = repo.RunFailed
		msg := truncate(strings.Join(problems, " | "), maxErrorMessage)
		run.ErrorMessage = &msg
	}

	if err := o.store.FinishSyncRun(bctx, *run); err != nil {
		logger.Error("failed to record sync run result", "error", err)
	}
	if err := o.store.TouchLastSync(bctx, account.ID, end); err != nil {
		logger.Error("failed to stamp last sync", "error", err)
	}
	if run.SyncType == repo.SyncInitial {
		if err := o.store.MarkInitialSyncResult(bctx, account.ID, succeeded, run.ErrorMessage, end); err != nil {
			logger.Error("failed to record initial sync result", "error", err)
		}
	}
	if o.metrics != nil {
		o.metrics.SyncRuns.WithLabelValues(string(run.SyncType), run.Status).Inc()
		o.metrics.SyncRunDuration.WithLabelValues(string(run.SyncType)).Observe(float64(run.DurationMS) / 1000)
		if !succeeded {
			o.metrics.Errors.WithLabelValues("orchestrator").Inc()
		}
	}

	attrs := []any{
		"status", run.Status,
		"processed", run.OrdersProcessed, "created", run.OrdersCreated,
		"updated", run.OrdersUpdated, "skipped", run.OrdersSkipped, "unmatched", run.OrdersUnmatched,
		"windows", len(report.Windows), "failed_windows", report.FailedWindows,
		"duration_ms", run.DurationMS,
	}
	if succeeded {
		logger.Info("sync run completed", attrs...)
		return report, nil
	}
	logger.Error("sync run failed", append(attrs, "error", *run.ErrorMessage)...)
	return report, fmt.Errorf("%w: %s", ErrRunFailed, *run.ErrorMessage)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
