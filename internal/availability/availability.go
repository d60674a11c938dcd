// Package availability is the boundary between calendar sources and the slot
// sweep: it fetches busy time, turns collaborator failures into result values
// and runs the computation.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "slotfinder/internal/log"
	"slotfinder/internal/slots"
)

const (
	DefaultDays            = 3
	DefaultMinimumDuration = time.Hour
	DefaultFetchTimeout    = 20 * time.Second
)

// ErrUnknownSource is wrapped by BusySource implementations when the source
// identifier does not name a calendar. Such lookups are invalid requests,
// not fetch failures.
var ErrUnknownSource = errors.New("unknown calendar source")

// BusySource returns busy events for a calendar source within [start, end].
// Implementations must expand recurrences before returning.
type BusySource interface {
	Busy(ctx context.Context, source string, start, end time.Time) ([]slots.RawEvent, error)
}

// Status classifies a Result.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNoAvailability Status = "no_availability"
	StatusFetchFailure   Status = "fetch_failure"
	StatusInvalidRequest Status = "invalid_request"
)

// Request describes one availability lookup. Zero Days and MinimumDuration
// take the package defaults.
type Request struct {
	Source          string
	Days            int
	MinimumDuration time.Duration
}

// Result is the outcome of a lookup. Slots is only populated for StatusOK;
// Err is set for StatusFetchFailure and StatusInvalidRequest.
type Result struct {
	Status          Status
	Source          string
	Window          slots.SearchWindow
	Days            int
	MinimumDuration time.Duration
	Slots           []slots.FreeSlot
	BusyCount       int
	Err             error
}

// Finder runs availability lookups against a BusySource.
type Finder struct {
	source  BusySource
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Finder.
type Option func(*Finder)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Finder) { f.now = now }
}

// WithFetchTimeout bounds each call to the BusySource.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Finder) { f.timeout = d }
}

// NewFinder returns a Finder over source.
func NewFinder(source BusySource, opts ...Option) *Finder {
	f := &Finder{
		source:  source,
		now:     time.Now,
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find computes free slots for req. It never returns a Go error: every
// outcome, including collaborator failure, is reported through Result.
func (f *Finder) Find(ctx context.Context, req Request) Result {
	if req.Days == 0 {
		req.Days = DefaultDays
	}
	if req.MinimumDuration == 0 {
		req.MinimumDuration = DefaultMinimumDuration
	}

	res := Result{
		Source:          req.Source,
		Days:            req.Days,
		MinimumDuration: req.MinimumDuration,
	}

	window, err := slots.NewSearchWindow(f.now(), req.Days)
	if err == nil {
		err = slots.Validate(window, req.MinimumDuration)
	}
	if err == nil && req.Source == "" {
		err = errors.New("calendar source is required")
	}
	if err != nil {
		res.Status = StatusInvalidRequest
		res.Err = err
		return res
	}
	res.Window = window

	busy, err := f.fetch(ctx, req.Source, window)
	if errors.Is(err, ErrUnknownSource) {
		appLog.Info("availability: unknown calendar source", "source", req.Source)
		res.Status = StatusInvalidRequest
		res.Err = err
		return res
	}
	if err != nil {
		appLog.Error("availability: calendar fetch failed", err, "source", req.Source)
		res.Status = StatusFetchFailure
		res.Err = err
		return res
	}
	res.BusyCount = len(busy)

	free, err := slots.Find(window, req.MinimumDuration, busy)
	if err != nil {
		res.Status = StatusInvalidRequest
		res.Err = err
		return res
	}

	res.Slots = free
	if len(free) == 0 {
		res.Status = StatusNoAvailability
	} else {
		res.Status = StatusOK
	}

	appLog.Info("availability computed",
		"source", req.Source,
		"status", string(res.Status),
		"busy", res.BusyCount,
		"slots", len(free),
		"range_start", window.Now.Format(time.RFC3339),
		"range_end", window.Horizon.Format(time.RFC3339),
	)
	return res
}

// fetch calls the collaborator under a timeout and converts a panic into an
// error so a misbehaving source cannot take the process down.
func (f *Finder) fetch(ctx context.Context, source string, w slots.SearchWindow) (busy []slots.RawEvent, err error) {
	if f.source == nil {
		return nil, errors.New("no calendar source configured")
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			busy = nil
			err = fmt.Errorf("calendar source panicked: %v", r)
		}
	}()

	return f.source.Busy(ctx, source, w.Now, w.Horizon)
}
