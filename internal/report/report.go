// Package report renders availability results for people and for programs.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"slotfinder/internal/availability"
	"slotfinder/internal/slots"
)

const (
	DefaultCap      = 5
	DefaultTimezone = "America/Los_Angeles"

	// SlotLayout renders like "Monday, Oct 19 at 09:00 AM".
	SlotLayout = "Monday, Jan 02 at 03:04 PM"
)

// Options controls presentation. A nil Location means DefaultTimezone; a Cap
// of zero means DefaultCap and a negative Cap disables truncation.
type Options struct {
	Location *time.Location
	Cap      int
}

// SlotRecord is the structured form of a free slot in the display zone.
type SlotRecord struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Cap keeps the first n slots. Slots are already chronological, so this keeps
// the earliest ones. n <= 0 returns all slots.
func Cap(free []slots.FreeSlot, n int) []slots.FreeSlot {
	if n <= 0 || len(free) <= n {
		return free
	}
	return free[:n]
}

// Summary renders a result as short text suited to a chat reply.
func Summary(res availability.Result, opts Options) string {
	opts = opts.withDefaults()

	switch res.Status {
	case availability.StatusFetchFailure:
		return fmt.Sprintf("Error: I couldn't access the calendar. Details: %v", res.Err)
	case availability.StatusInvalidRequest:
		return fmt.Sprintf("Error: invalid availability request. Details: %v", res.Err)
	case availability.StatusNoAvailability:
		return fmt.Sprintf("I checked the calendar, but there are no %s gaps available in the next %s.",
			HumanDuration(res.MinimumDuration), pluralDays(res.Days))
	}

	var b strings.Builder
	b.WriteString("Here are the available windows I found in your schedule:\n")
	for _, s := range Cap(res.Slots, opts.Cap) {
		b.WriteString("- ")
		b.WriteString(s.Start.In(opts.Location).Format(SlotLayout))
		b.WriteString("\n")
	}
	return b.String()
}

// Structured converts the capped slots to display-zone records.
func Structured(res availability.Result, opts Options) []SlotRecord {
	opts = opts.withDefaults()
	capped := Cap(res.Slots, opts.Cap)
	out := make([]SlotRecord, 0, len(capped))
	for _, s := range capped {
		out = append(out, SlotRecord{
			Start:           s.Start.In(opts.Location),
			End:             s.End.In(opts.Location),
			DurationMinutes: int(s.Duration() / time.Minute),
		})
	}
	return out
}

// HumanDuration renders durations like "1-hour", "90-minute" or "2.5-hour".
func HumanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "-hour"
	case d < time.Hour || d%time.Minute != 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "-minute"
	case d%(30*time.Minute) == 0:
		return strconv.FormatFloat(d.Hours(), 'f', 1, 64) + "-hour"
	default:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "-minute"
	}
}

// LoadLocation resolves an IANA zone name, falling back to DefaultTimezone
// and finally UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("report: load timezone %q: %w", name, err)
	}
	return loc, nil
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location, _ = LoadLocation(DefaultTimezone)
	}
	if o.Cap == 0 {
		o.Cap = DefaultCap
	}
	return o
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return strconv.Itoa(n) + " days"
}
