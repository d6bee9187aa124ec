package scheduler

import (
	"slices"
	"time"

	"fulfillment-sync/internal/repo"
)

// Tiers in priority order.
var Tiers = []repo.SyncType{repo.SyncInitial, repo.SyncDeep, repo.SyncFast}

// Policy holds the cadence of each tier.
type Policy struct {
	// DeepHours are the UTC hours during which the deep tier starts once.
	DeepHours            []int
	FastInterval         time.Duration
	InitialRetryInterval time.Duration
}

// DefaultPolicy runs deep at 03:00 and 15:00 UTC and fast every 30 minutes.
func DefaultPolicy() Policy {
	return Policy{
		DeepHours:            []int{3, 15},
		FastInterval:         30 * time.Minute,
		InitialRetryInterval: 30 * time.Minute,
	}
}

// State is the tier bookkeeping of one scheduler. It is not safe for
// concurrent use; the scheduler serializes access.
type State struct {
	policy          Policy
	running         map[repo.SyncType]bool
	lastRun         map[repo.SyncType]time.Time
	initialAttempts map[string]time.Time
}

// NewState returns an idle state.
func NewState(policy Policy) *State {
	return &State{
		policy:          policy,
		running:         make(map[repo.SyncType]bool),
		lastRun:         make(map[repo.SyncType]time.Time),
		initialAttempts: make(map[string]time.Time),
	}
}

// InitialDue lists accounts whose backfill is not complete and whose last
// attempt is older than the retry interval.
func (s *State) InitialDue(accounts []repo.WarehouseAccount, now time.Time) []string {
	var ids []string
	for _, a := range accounts {
		if a.InitialSyncCompleted {
			continue
		}
		if last, ok := s.initialAttempts[a.ID]; ok && now.Sub(last) < s.policy.InitialRetryInterval {
			continue
		}
		ids = append(ids, a.ID)
	}
	return ids
}

// Decide picks the tier to start at now, or "" when nothing is due.
// Initial outranks deep, which outranks fast. Nothing else starts while an
// initial backfill is in flight.
func (s *State) Decide(now time.Time, initialPending bool) repo.SyncType {
	if s.running[repo.SyncInitial] {
		return ""
	}
	if initialPending {
		return repo.SyncInitial
	}
	if s.deepDue(now) {
		return repo.SyncDeep
	}
	if s.fastDue(now) {
		return repo.SyncFast
	}
	return ""
}

// CanStart reports whether a run of tier may start now under the
// reentrancy rules.
func (s *State) CanStart(tier repo.SyncType) bool {
	if s.running[tier] {
		return false
	}
	return tier == repo.SyncInitial || !s.running[repo.SyncInitial]
}

func (s *State) deepDue(now time.Time) bool {
	if s.running[repo.SyncDeep] || !slices.Contains(s.policy.DeepHours, now.UTC().Hour()) {
		return false
	}
	last := s.lastRun[repo.SyncDeep]
	return last.IsZero() || !last.UTC().Truncate(time.Hour).Equal(now.UTC().Truncate(time.Hour))
}

func (s *State) fastDue(now time.Time) bool {
	if s.running[repo.SyncFast] {
		return false
	}
	last := s.lastRun[repo.SyncFast]
	return last.IsZero() || now.Sub(last) >= s.policy.FastInterval
}

// Begin marks tier running. Scheduled starts move the last-run clock; a deep
// start also resets fast since it covers the fast lookback.
func (s *State) Begin(tier repo.SyncType, now time.Time, scheduled bool) {
	s.running[tier] = true
	if !scheduled {
		return
	}
	s.lastRun[tier] = now
	if tier == repo.SyncDeep {
		s.lastRun[repo.SyncFast] = now
	}
}

// RecordInitialAttempt stamps the backfill attempt of accounts.
func (s *State) RecordInitialAttempt(now time.Time, accountIDs ...string) {
	for _, id := range accountIDs {
		s.initialAttempts[id] = now
	}
}

// Finish clears the running flag of tier.
func (s *State) Finish(tier repo.SyncType) {
	s.running[tier] = false
}

// Running reports whether tier is in flight.
func (s *State) Running(tier repo.SyncType) bool {
	return s.running[tier]
}

// LastRun is the last scheduled start of tier.
func (s *State) LastRun(tier repo.SyncType) time.Time {
	return s.lastRun[tier]
}
