package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process configuration read from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	Sync     SyncConfig
	Provider ProviderConfig
}

// SyncConfig tunes the scheduler and the sync engine.
type SyncConfig struct {
	Enabled                bool
	TickInterval           time.Duration
	Workers                int
	RunTimeout             time.Duration
	PageCeiling            int
	WindowDays             int
	InitialMinLookbackDays int
	InitialMaxLookbackDays int
	InitialRetryInterval   time.Duration
	DeepLookbackDays       int
	DeepHours              []int
	FastLookbackDays       int
	FastInterval           time.Duration
	ReconcileBatch         int
	ReconcileLookbackDays  int
	AccountLockTTL         time.Duration
}

// ProviderConfig configures the carrier HTTP clients.
type ProviderConfig struct {
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	FHBBaseURL        string
	EuropeanBaseURL   string
	CartPandaBaseURL  string
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads the configuration. Malformed values are reported together.
func Load() (Config, error) {
	e := &env{}
	cfg := Config{
		AppEnv:           e.str("APP_ENV", "development"),
		LogLevel:         e.str("LOG_LEVEL", "info"),
		LogFormat:        e.str("LOG_FORMAT", "text"),
		HTTPListenAddr:   e.str("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   e.str("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: e.str("METRICS_NAMESPACE", "fulfillment_sync"),

		DatabaseDriver: strings.ToLower(e.str("DATABASE_DRIVER", DriverPostgres)),
		DatabaseURL:    e.str("DATABASE_URL", ""),
		DatabaseSchema: e.str("DATABASE_SCHEMA", ""),
		SQLitePath:     e.str("SQLITE_PATH", "fulfillment-sync.db"),

		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisDB:       e.integer("REDIS_DB", 0),
		RedisTLS:      e.boolean("REDIS_TLS", false),

		Sync: SyncConfig{
			Enabled:                e.boolean("SYNC_ENABLED", true),
			TickInterval:           e.duration("SYNC_TICK_INTERVAL", time.Minute),
			Workers:                e.integer("SYNC_WORKERS", 1),
			RunTimeout:             e.duration("SYNC_RUN_TIMEOUT", 2*time.Hour),
			PageCeiling:            e.integer("SYNC_PAGE_CEILING", 99),
			WindowDays:             e.integer("SYNC_WINDOW_DAYS", 30),
			InitialMinLookbackDays: e.integer("SYNC_INITIAL_MIN_LOOKBACK_DAYS", 90),
			InitialMaxLookbackDays: e.integer("SYNC_INITIAL_MAX_LOOKBACK_DAYS", 730),
			InitialRetryInterval:   e.duration("SYNC_INITIAL_RETRY_INTERVAL", 30*time.Minute),
			DeepLookbackDays:       e.integer("SYNC_DEEP_LOOKBACK_DAYS", 30),
			DeepHours:              e.hours("SYNC_DEEP_HOURS", []int{3, 15}),
			FastLookbackDays:       e.integer("SYNC_FAST_LOOKBACK_DAYS", 10),
			FastInterval:           e.duration("SYNC_FAST_INTERVAL", 30*time.Minute),
			ReconcileBatch:         e.integer("SYNC_RECONCILE_BATCH", 500),
			ReconcileLookbackDays:  e.integer("SYNC_RECONCILE_LOOKBACK_DAYS", 45),
			AccountLockTTL:         e.duration("SYNC_ACCOUNT_LOCK_TTL", 3*time.Hour),
		},
		Provider: ProviderConfig{
			HTTPTimeout:       e.duration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
			RequestsPerSecond: e.float("PROVIDER_RPS", 2),
			Burst:             e.integer("PROVIDER_BURST", 4),
			FHBBaseURL:        e.str("FHB_BASE_URL", ""),
			EuropeanBaseURL:   e.str("EUROPEAN_BASE_URL", ""),
			CartPandaBaseURL:  e.str("CARTPANDA_BASE_URL", ""),
		},
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			e.fail(errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverSQLite:
	default:
		e.fail(fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", cfg.DatabaseDriver))
	}
	if cfg.Sync.InitialMaxLookbackDays < cfg.Sync.InitialMinLookbackDays {
		e.fail(fmt.Errorf("SYNC_INITIAL_MAX_LOOKBACK_DAYS (%d) is below SYNC_INITIAL_MIN_LOOKBACK_DAYS (%d)",
			cfg.Sync.InitialMaxLookbackDays, cfg.Sync.InitialMinLookbackDays))
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env reads typed variables and collects parse errors.
type env struct {
	errs []error
}

func (e *env) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	switch strings.ToLower(e.str(key, "")) {
	case "":
		return def
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		e.fail(fmt.Errorf("%s: invalid boolean %q", key, os.Getenv(key)))
		return def
	}
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		e.fail(fmt.Errorf("%s: must be positive, got %s", key, raw))
		return def
	}
	return d
}

// hours parses a comma separated list of UTC hours.
func (e *env) hours(key string, def []int) []int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil || h < 0 || h > 23 {
			e.fail(fmt.Errorf("%s: invalid hour %q", key, part))
			return def
		}
		out = append(out, h)
	}
	return out
}
