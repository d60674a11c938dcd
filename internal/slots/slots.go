// Package slots computes free time windows of a minimum length inside a
// bounded search window, given busy intervals from a calendar.
//
// The pipeline is Normalize -> Sort -> Sweep. Timezones are only handled by
// Normalize; Sort and Sweep see UTC instants exclusively.
package slots

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrInvalidWindow   = errors.New("slots: invalid search window")
	ErrInvalidDuration = errors.New("slots: minimum duration must be positive")
)

// RawEvent is a materialized busy event as handed over by a calendar source.
// Start and End may carry any location.
type RawEvent struct {
	Start time.Time
	End   time.Time
}

// BusyInterval is a busy span on the shared UTC timeline. Start <= End.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// FreeSlot is an available span of at least the minimum duration.
type FreeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the slot.
func (s FreeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// SearchWindow bounds the sweep to [Now, Horizon].
type SearchWindow struct {
	Now     time.Time
	Horizon time.Time
}

// MaxDays bounds the search horizon so now+days*24h cannot overflow.
const MaxDays = 366

// NewSearchWindow returns the window [now, now+days*24h] in UTC. days must be
// within [0, MaxDays].
func NewSearchWindow(now time.Time, days int) (SearchWindow, error) {
	if days < 0 || days > MaxDays {
		return SearchWindow{}, ErrInvalidWindow
	}
	now = now.UTC()
	return SearchWindow{
		Now:     now,
		Horizon: now.Add(time.Duration(days) * 24 * time.Hour),
	}, nil
}

// Validate checks the window and minimum duration before a sweep.
func Validate(w SearchWindow, minimum time.Duration) error {
	if w.Horizon.Before(w.Now) {
		return ErrInvalidWindow
	}
	if minimum <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Normalize converts raw events into UTC busy intervals.
//
// An event whose End precedes its Start is clamped to a zero-length interval
// at Start. Events without a Start are dropped; a missing End is treated as
// zero-length. Output order follows input order.
func Normalize(events []RawEvent) []BusyInterval {
	out := make([]BusyInterval, 0, len(events))
	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}
		start := ev.Start.UTC()
		end := ev.End.UTC()
		if ev.End.IsZero() || end.Before(start) {
			end = start
		}
		out = append(out, BusyInterval{Start: start, End: end})
	}
	return out
}

// Sort returns a copy of intervals ordered by Start, ties broken by End.
func Sort(intervals []BusyInterval) []BusyInterval {
	out := slices.Clone(intervals)
	slices.SortStableFunc(out, func(a, b BusyInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
	return out
}

// Sweep walks sorted busy intervals once, tracking how far busy time has
// advanced, and emits every gap of at least minimum. Overlapping and nested
// intervals are coalesced by the frontier. Busy time is not clipped to the
// horizon, but an emitted slot never ends past it.
func Sweep(w SearchWindow, minimum time.Duration, sorted []BusyInterval) []FreeSlot {
	return sweep(w, minimum, sorted, nil)
}

// sweep is Sweep with an optional hook invoked with each frontier value.
func sweep(w SearchWindow, minimum time.Duration, sorted []BusyInterval, observe func(time.Time)) []FreeSlot {
	var free []FreeSlot
	frontier := w.Now.UTC()
	horizon := w.Horizon.UTC()
	if observe != nil {
		observe(frontier)
	}

	for _, busy := range sorted {
		gapEnd := busy.Start
		// Free time is only known inside the window; past the horizon the
		// calendar may hold events that were never fetched.
		if gapEnd.After(horizon) {
			gapEnd = horizon
		}
		if gapEnd.Sub(frontier) >= minimum {
			free = append(free, FreeSlot{Start: frontier, End: gapEnd})
		}
		if busy.End.After(frontier) {
			frontier = busy.End
			if observe != nil {
				observe(frontier)
			}
		}
	}

	if horizon.Sub(frontier) >= minimum {
		free = append(free, FreeSlot{Start: frontier, End: horizon})
	}
	return free
}

// Find runs the full pipeline over raw events.
func Find(w SearchWindow, minimum time.Duration, events []RawEvent) ([]FreeSlot, error) {
	if err := Validate(w, minimum); err != nil {
		return nil, err
	}
	return Sweep(w, minimum, Sort(Normalize(events))), nil
}
