// Package scheduler drives the sync tiers: a one-minute supervisor tick picks
// at most one due tier and fans its accounts out to a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/repo"
	"fulfillment-sync/internal/syncer"
)

var (
	// ErrQueueFull is returned when the manual trigger queue is saturated.
	ErrQueueFull = errors.New("sync trigger queue full")
	// ErrInvalidTier is returned for unknown sync types.
	ErrInvalidTier = errors.New("invalid sync tier")
	// ErrNotRunning is returned by Trigger before Run has started.
	ErrNotRunning = errors.New("scheduler not running")
)

// Runner executes one account run; *syncer.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, accountID string, syncType repo.SyncType) (*syncer.Report, error)
}

// AccountSource lists the accounts the scheduler considers.
type AccountSource interface {
	ListActiveAccounts(ctx context.Context) ([]repo.WarehouseAccount, error)
}

// Config tunes the supervisor loop.
type Config struct {
	TickInterval time.Duration
	Workers      int
	RunTimeout   time.Duration
	QueueSize    int
	Policy       Policy
}

type request struct {
	accountID string
	tier      repo.SyncType
}

// Scheduler owns the tier state and the manual trigger queue.
type Scheduler struct {
	cfg      Config
	accounts AccountSource
	runner   Runner
	guard    *accountGuard
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	state   *State
	started bool
	pending []request

	queue chan request
	wake  chan struct{}
	wg    sync.WaitGroup
}

// New builds a scheduler. locker may be nil for single-process deployments.
func New(cfg Config, accounts AccountSource, runner Runner, locker Locker, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Policy.FastInterval <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		cfg:      cfg,
		accounts: accounts,
		runner:   runner,
		guard:    newAccountGuard(locker, logger),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		state:    NewState(cfg.Policy),
		queue:    make(chan request, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"workers", s.cfg.Workers,
		"deep_hours", s.cfg.Policy.DeepHours,
		"fast_interval", s.cfg.Policy.FastInterval)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		// Stop draining the channel once pending is full so Trigger reports
		// ErrQueueFull.
		queue := s.queue
		s.mu.Lock()
		if len(s.pending) >= s.cfg.QueueSize {
			queue = nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			s.logger.Info("scheduler stopping; waiting for running syncs")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		case req := <-queue:
			s.mu.Lock()
			s.pending = append(s.pending, req)
			s.mu.Unlock()
			s.startManual(ctx)
		case <-s.wake:
			s.startManual(ctx)
		}
	}
}

// Trigger queues a manual run of tier for one account.
func (s *Scheduler) Trigger(accountID string, tier repo.SyncType) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	select {
	case s.queue <- request{accountID: accountID, tier: tier}:
		s.logger.Info("manual sync queued", "account_id", accountID, "sync_type", string(tier))
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.startManual(ctx)

	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		s.countError()
		return
	}
	now := s.now().UTC()

	s.mu.Lock()
	initial := s.state.InitialDue(accounts, now)
	tier := s.state.Decide(now, len(initial) > 0)
	var ids []string
	switch tier {
	case repo.SyncInitial:
		ids = initial
		s.state.RecordInitialAttempt(now, ids...)
	case repo.SyncDeep, repo.SyncFast:
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}
	}
	if tier != "" {
		s.state.Begin(tier, now, true)
	}
	s.mu.Unlock()

	label := string(tier)
	if tier == "" {
		label = "idle"
	}
	if s.metrics != nil {
		s.metrics.SchedulerTicks.WithLabelValues(label).Inc()
	}
	if tier == "" {
		s.logger.Debug("no tier due")
		return
	}
	s.logger.Info("starting sync tier", "sync_type", string(tier), "accounts", len(ids))
	s.dispatch(ctx, tier, ids)
}

// startManual starts queued manual requests whose tier may run now. Blocked
// requests stay pending until a tier finishes or the next tick.
func (s *Scheduler) startManual(ctx context.Context) {
	s.mu.Lock()
	var start []request
	kept := s.pending[:0]
	for _, req := range s.pending {
		if s.state.CanStart(req.tier) {
			s.state.Begin(req.tier, s.now().UTC(), false)
			if req.tier == repo.SyncInitial {
				s.state.RecordInitialAttempt(s.now().UTC(), req.accountID)
			}
			start = append(start, req)
			continue
		}
		kept = append(kept, req)
	}
	s.pending = kept
	s.mu.Unlock()

	for _, req := range start {
		s.logger.Info("starting manual sync", "account_id", req.accountID, "sync_type", string(req.tier))
		s.dispatch(ctx, req.tier, []string{req.accountID})
	}
}

func (s *Scheduler) dispatch(ctx context.Context, tier repo.SyncType, ids []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(tier)

		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for _, id := range ids {
			g.Go(func() error {
				s.runAccount(ctx, tier, id)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (s *Scheduler) finish(tier repo.SyncType) {
	s.mu.Lock()
	s.state.Finish(tier)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runAccount(ctx context.Context, tier repo.SyncType, accountID string) {
	logger := s.logger.With("account_id", accountID, "sync_type", string(tier))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("account sync panicked", "panic", r, "stack", string(debug.Stack()))
			s.countError()
		}
	}()
	if ctx.Err() != nil {
		return
	}

	release, ok := s.guard.acquire(ctx, accountID)
	if !ok {
		logger.Info("account busy; skipping this pass")
		return
	}
	defer release()

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	report, err := s.runner.Run(rctx, accountID, tier)
	switch {
	case errors.Is(err, syncer.ErrAccountInactive):
		logger.Info("account inactive; skipped")
	case err != nil:
		logger.Warn("account sync failed", "error", err)
	case report != nil:
		logger.Debug("account sync finished", "run_id", report.Run.ID, "windows", len(report.Windows))
	}
}

func (s *Scheduler) countError() {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("scheduler").Inc()
	}
}

// TierSnapshot is the observable state of one tier.
type TierSnapshot struct {
	Tier    repo.SyncType `json:"tier"`
	Running bool          `json:"running"`
	LastRun *time.Time    `json:"last_run,omitempty"`
}

// Snapshot is the scheduler state reported on the admin surface.
type Snapshot struct {
	Started        bool           `json:"started"`
	Tiers          []TierSnapshot `json:"tiers"`
	ActiveAccounts []string       `json:"active_accounts"`
	Pending        int            `json:"pending"`
}

// Snapshot copies the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Started: s.started, Pending: len(s.pending) + len(s.queue)}
	for _, tier := range Tiers {
		ts := TierSnapshot{Tier: tier, Running: s.state.Running(tier)}
		if last := s.state.LastRun(tier); !last.IsZero() {
			ts.LastRun = &last
		}
		snap.Tiers = append(snap.Tiers, ts)
	}
	s.mu.Unlock()
	snap.ActiveAccounts = s.guard.snapshot()
	return snap
}
