package syncer

import (
	"fmt"
	"math/bits"
	"time"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/repo"
)

const day = 24 * time.Hour

// Window is a [Start, End) range of whole UTC days. Depth counts how many
// bisections produced it.
type Window struct {
	Start time.Time
	End   time.Time
	Depth int
}

// NewWindow truncates both bounds to UTC days. An empty or inverted range
// becomes the single day starting at start.
func NewWindow(start, end time.Time) Window {
	s, e := provider.Day(start), provider.Day(end)
	if !e.After(s) {
		e = s.Add(day)
	}
	return Window{Start: s, End: e}
}

// Days is the number of calendar days covered.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start) / day)
}

// SingleDay reports whether the window can no longer be bisected.
func (w Window) SingleDay() bool {
	return w.Days() <= 1
}

// LastDay is the inclusive upper bound handed to providers.
func (w Window) LastDay() time.Time {
	return w.End.Add(-day)
}

// Split bisects the window at its midpoint day. The left half gets the
// smaller share when the day count is odd.
func (w Window) Split() (Window, Window) {
	mid := w.Start.Add(time.Duration(w.Days()/2) * day)
	return Window{Start: w.Start, End: mid, Depth: w.Depth + 1},
		Window{Start: mid, End: w.End, Depth: w.Depth + 1}
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(provider.DateLayout), w.End.Format(provider.DateLayout))
}

// MaxSplitDepth is ceil(log2(days)), the number of halvings needed to reach
// one-day windows.
func MaxSplitDepth(days int) int {
	if days <= 1 {
		return 0
	}
	return bits.Len(uint(days - 1))
}

// PlanConfig sizes the windows of each tier.
type PlanConfig struct {
	WindowDays             int
	InitialMinLookbackDays int
	InitialMaxLookbackDays int
	DeepLookbackDays       int
	FastLookbackDays       int
}

// DefaultPlanConfig matches the production cadence.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		WindowDays:             30,
		InitialMinLookbackDays: 90,
		InitialMaxLookbackDays: 730,
		DeepLookbackDays:       30,
		FastLookbackDays:       10,
	}
}

// Windows lists the windows of one run, oldest first. Every plan ends
// tomorrow so today's orders are always included.
func (c PlanConfig) Windows(syncType repo.SyncType, accountCreated, now time.Time) []Window {
	end := provider.Day(now).Add(day)
	switch syncType {
	case repo.SyncInitial:
		lookback := c.InitialLookbackDays(accountCreated, now)
		return chunk(end.Add(-time.Duration(lookback)*day), end, c.WindowDays)
	case repo.SyncDeep:
		return []Window{{Start: end.Add(-time.Duration(max(c.DeepLookbackDays, 1)) * day), End: end}}
	case repo.SyncFast:
		return []Window{{Start: end.Add(-time.Duration(max(c.FastLookbackDays, 1)) * day), End: end}}
	default:
		return nil
	}
}

// InitialLookbackDays is the account age clamped to the configured bounds.
func (c PlanConfig) InitialLookbackDays(accountCreated, now time.Time) int {
	age := 0
	if !accountCreated.IsZero() && accountCreated.Before(now) {
		age = int(provider.Day(now).Sub(provider.Day(accountCreated)) / day)
	}
	lo, hi := c.InitialMinLookbackDays, c.InitialMaxLookbackDays
	if hi < lo {
		hi = lo
	}
	return min(max(age, lo), hi)
}

func chunk(start, end time.Time, size int) []Window {
	if size <= 0 {
		size = 30
	}
	var out []Window
	for cursor := start; cursor.Before(end); {
		next := cursor.Add(time.Duration(size) * day)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cursor, End: next})
		cursor = next
	}
	return out
}
