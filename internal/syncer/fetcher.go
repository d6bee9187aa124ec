package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fulfillment-sync/internal/metrics"
	"fulfillment-sync/internal/provider"
)

// DefaultPageCeiling is the page count after which providers stop paging.
const DefaultPageCeiling = 99

// FetchResult is the outcome of fetching one top-level window.
type FetchResult struct {
	Records []provider.RawOrder
	// Complete is false when any sub-window failed. Records fetched before
	// the failure are still returned.
	Complete bool
	// HitPageCeiling reports a single-day window accepted while still over
	// the ceiling; its records are truncated.
	HitPageCeiling bool
	Splits         int
	Pages          int
	Err            error
}

// WindowFetcher pages through a provider listing and bisects windows that
// hit the page ceiling.
type WindowFetcher struct {
	maxPages int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWindowFetcher returns a fetcher stopping after maxPages pages per window.
func NewWindowFetcher(maxPages int, logger *slog.Logger, m *metrics.Metrics) *WindowFetcher {
	if maxPages <= 0 {
		maxPages = DefaultPageCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowFetcher{
		maxPages: maxPages,
		logger:   logger.With("component", "window_fetcher"),
		metrics:  m,
	}
}

// Fetch collects every record of window. Sub-windows are processed depth
// first from an explicit stack, oldest half first.
func (f *WindowFetcher) Fetch(ctx context.Context, adapter provider.Adapter, window Window) FetchResult {
	key := string(adapter.Key())
	maxDepth := window.Depth + MaxSplitDepth(window.Days())
	result := FetchResult{Complete: true}
	var errs []error

	stack := []Window{window}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := ctx.Err(); err != nil {
			result.Complete = false
			errs = append(errs, fmt.Errorf("window %s: %w", w, err))
			break
		}

		records, pages, ceiling, err := f.fetchPages(ctx, adapter, w)
		result.Pages += pages
		if err != nil {
			result.Complete = false
			result.Records = append(result.Records, records...)
			errs = append(errs, fmt.Errorf("window %s: %w", w, err))
			f.logger.Warn("window fetch failed",
				"provider", key, "window_start", w.Start, "window_end", w.End, "depth", w.Depth,
				"records_kept", len(records), "error", err)
			continue
		}
		if !ceiling {
			result.Records = append(result.Records, records...)
			continue
		}

		if w.SingleDay() || w.Depth >= maxDepth {
			result.HitPageCeiling = true
			result.Records = append(result.Records, records...)
			f.logger.Warn("page ceiling reached on single-day window; accepting truncated result",
				"provider", key, "window_start", w.Start, "depth", w.Depth,
				"pages", pages, "records", len(records))
			if f.metrics != nil {
				f.metrics.CeilingOverflows.WithLabelValues(key).Inc()
			}
			continue
		}

		left, right := w.Split()
		result.Splits++
		f.logger.Info("page ceiling reached; splitting window",
			"provider", key, "window_start", w.Start, "window_end", w.End, "depth", w.Depth,
			"left", left.String(), "right", right.String())
		if f.metrics != nil {
			f.metrics.WindowSplits.WithLabelValues(key).Inc()
		}
		stack = append(stack, right, left)
	}

	result.Err = errors.Join(errs...)
	if f.metrics != nil {
		f.metrics.SyncWindows.WithLabelValues(key, result.outcome()).Inc()
	}
	return result
}

// fetchPages reads pages until an empty or final page. ceiling is true when
// maxPages pages were read and the provider still reported more.
func (f *WindowFetcher) fetchPages(ctx context.Context, adapter provider.Adapter, w Window) (records []provider.RawOrder, pages int, ceiling bool, err error) {
	for page := 1; page <= f.maxPages; page++ {
		p, err := adapter.FetchOrderHistory(ctx, w.Start, w.LastDay(), page)
		if err != nil {
			return records, pages, false, fmt.Errorf("page %d: %w", page, err)
		}
		pages++
		if len(p.Records) == 0 {
			return records, pages, false, nil
		}
		records = append(records, p.Records...)
		if !p.HasMore {
			return records, pages, false, nil
		}
	}
	return records, pages, true, nil
}

func (r FetchResult) outcome() string {
	switch {
	case !r.Complete:
		return "incomplete"
	case r.HitPageCeiling:
		return "overflow"
	default:
		return "complete"
	}
}
