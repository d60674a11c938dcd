package ics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"slotfinder/internal/availability"
	appLog "slotfinder/internal/log"
	"slotfinder/internal/slots"
)

var ErrUnknownSource = fmt.Errorf("ics: %w", availability.ErrUnknownSource)

// Calendar resolves calendar source identifiers to ICS feeds and reports the
// busy occurrences in a time range. It is safe for concurrent use.
type Calendar struct {
	fetcher *Fetcher
	sources map[string]Source

	// AllowRawURL lets callers pass an http(s)://, webcal:// or file:// URL
	// instead of a configured source ID.
	AllowRawURL bool

	// Floating is the zone for all-day and floating-time events. nil is UTC.
	Floating *time.Location

	// MaxOccurrencesPerEvent caps recurrence expansion per series.
	MaxOccurrencesPerEvent int
}

// NewCalendar builds a Calendar over the given sources.
func NewCalendar(fetcher *Fetcher, sources []Source) *Calendar {
	byID := make(map[string]Source, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	return &Calendar{fetcher: fetcher, sources: byID}
}

// Sources returns the configured source IDs in sorted order.
func (c *Calendar) Sources() []string {
	ids := make([]string, 0, len(c.sources))
	for id := range c.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resolve maps a source identifier to a Source.
func (c *Calendar) Resolve(id string) (Source, error) {
	if s, ok := c.sources[id]; ok {
		return s, nil
	}
	if c.AllowRawURL && isRawURL(id) {
		return Source{ID: redactURL(id), URL: id}, nil
	}
	return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
}

// Busy fetches, parses and expands the source and returns every busy
// occurrence touching [start, end].
func (c *Calendar) Busy(ctx context.Context, source string, start, end time.Time) ([]slots.RawEvent, error) {
	src, err := c.Resolve(source)
	if err != nil {
		return nil, err
	}

	res, err := c.fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}

	events, err := ParseICS(src, res.Body, c.Floating)
	if err != nil {
		return nil, err
	}

	expanded, err := Expand(events, ExpandConfig{
		RangeStart:             start,
		RangeEnd:               end,
		MaxOccurrencesPerEvent: c.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return nil, err
	}

	busy := make([]slots.RawEvent, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		busy = append(busy, slots.RawEvent{Start: occ.Start, End: occ.End})
	}

	appLog.Info("calendar busy loaded",
		"id", src.ID,
		"from_cache", res.FromCache,
		"events", len(events),
		"occurrences", len(busy),
		"truncated_uids", len(expanded.TruncatedEvents),
	)
	return busy, nil
}

func isRawURL(s string) bool {
	l := strings.ToLower(s)
	for _, p := range []string{"http://", "https://", "webcal://", "file://"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}
