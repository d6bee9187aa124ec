package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fulfillment-sync/internal/metrics"
)

// Deps are the shared collaborators handed to every adapter factory.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tokens  TokenCache
	HTTP    HTTPConfig
	// BaseURLs overrides the default endpoint per provider.
	BaseURLs map[Key]string
}

// HTTPConfig configures the provider HTTP clients.
type HTTPConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Factory builds an adapter for one account.
type Factory func(account Account, deps Deps) (Adapter, error)

// Registry resolves provider keys to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Key]Factory
	deps      Deps
}

// NewRegistry creates an empty registry sharing deps across adapters.
func NewRegistry(deps Deps) *Registry {
	if deps.Tokens == nil {
		deps.Tokens = NewMemoryTokenCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		factories: make(map[Key]Factory),
		deps:      deps,
	}
}

// Register binds a factory to a provider key, replacing any previous binding.
func (r *Registry) Register(key Key, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Open builds the adapter serving account.
func (r *Registry) Open(account Account) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[account.Key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, account.Key)
	}
	adapter, err := factory(account, r.deps)
	if err != nil {
		return nil, fmt.Errorf("open %s adapter for account %s: %w", account.Key, account.ID, err)
	}
	return adapter, nil
}

// Keys lists registered providers in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// BaseURL returns the configured endpoint for key or fallback.
func (d Deps) BaseURL(key Key, fallback string) string {
	if u, ok := d.BaseURLs[key]; ok && u != "" {
		return u
	}
	return fallback
}
