package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Locker leases an account across processes. cache.AccountLocker
// implements it on Redis.
type Locker interface {
	Acquire(ctx context.Context, accountID string) (release func(), ok bool, err error)
}

// accountGuard keeps at most one run per account in this process and, when
// a Locker is configured, across processes.
type accountGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
	locker Locker
	logger *slog.Logger
}

func newAccountGuard(locker Locker, logger *slog.Logger) *accountGuard {
	return &accountGuard{active: make(map[string]struct{}), locker: locker, logger: logger}
}

// acquire returns ok=false when the account is busy or the lease could not
// be taken.
func (g *accountGuard) acquire(ctx context.Context, accountID string) (func(), bool) {
	g.mu.Lock()
	if _, busy := g.active[accountID]; busy {
		g.mu.Unlock()
		return nil, false
	}
	g.active[accountID] = struct{}{}
	g.mu.Unlock()

	local := func() {
		g.mu.Lock()
		delete(g.active, accountID)
		g.mu.Unlock()
	}
	if g.locker == nil {
		return local, true
	}

	release, ok, err := g.locker.Acquire(ctx, accountID)
	if err != nil {
		g.logger.Error("account lease failed", "account_id", accountID, "error", err)
	}
	if err != nil || !ok {
		local()
		return nil, false
	}
	return func() {
		release()
		local()
	}, true
}

func (g *accountGuard) snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.active))
	for id := range g.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
