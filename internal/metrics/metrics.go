package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	SyncRuns         *prometheus.CounterVec
	SyncRunDuration  *prometheus.HistogramVec
	SyncWindows      *prometheus.CounterVec
	WindowSplits     *prometheus.CounterVec
	CeilingOverflows *prometheus.CounterVec
	StagingUpserts   *prometheus.CounterVec
	ReconcileResults *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	SchedulerTicks   *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Finished account sync runs by tier and final status.",
			}, []string{"sync_type", "status"}),
			SyncRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Wall time of account sync runs.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
			}, []string{"sync_type"}),
			SyncWindows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_windows_total",
				Help:      "Date windows processed by provider and outcome.",
			}, []string{"provider", "outcome"}),
			WindowSplits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_window_splits_total",
				Help:      "Window bisections caused by the provider page ceiling.",
			}, []string{"provider"}),
			CeilingOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_page_ceiling_overflows_total",
				Help:      "Single-day windows accepted while still over the page ceiling.",
			}, []string{"provider"}),
			StagingUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staging_upserts_total",
				Help:      "Staging order writes by outcome.",
			}, []string{"outcome"}),
			ReconcileResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_results_total",
				Help:      "Reconciliation results by matching rule (or unmatched).",
			}, []string{"rule"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Provider API requests by endpoint and status.",
			}, []string{"provider", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for provider API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "endpoint", "status"}),
			SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_ticks_total",
				Help:      "Scheduler ticks by the tier they started (or idle).",
			}, []string{"tier"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.SyncRuns,
			metricsInstance.SyncRunDuration,
			metricsInstance.SyncWindows,
			metricsInstance.WindowSplits,
			metricsInstance.CeilingOverflows,
			metricsInstance.StagingUpserts,
			metricsInstance.ReconcileResults,
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.SchedulerTicks,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
