package availability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotfinder/internal/slots"
)

var monday9 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	events []slots.RawEvent
	err    error
	panics bool

	gotSource   string
	gotStart    time.Time
	gotEnd      time.Time
	gotDeadline bool
	calls       int
}

func (f *fakeSource) Busy(ctx context.Context, source string, start, end time.Time) ([]slots.RawEvent, error) {
	f.calls++
	f.gotSource, f.gotStart, f.gotEnd = source, start, end
	_, f.gotDeadline = ctx.Deadline()
	if f.panics {
		panic("feed exploded")
	}
	return f.events, f.err
}

func newFinder(src BusySource) *Finder {
	return NewFinder(src, WithClock(func() time.Time { return monday9 }))
}

func TestFindDefaults(t *testing.T) {
	src := &fakeSource{}
	res := newFinder(src).Find(context.Background(), Request{Source: "work"})

	require.Equal(t, StatusOK, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, DefaultDays, res.Days)
	assert.Equal(t, time.Hour, res.MinimumDuration)
	assert.Equal(t, "work", src.gotSource)
	assert.Equal(t, monday9, src.gotStart)
	assert.Equal(t, monday9.Add(72*time.Hour), src.gotEnd)
	assert.True(t, src.gotDeadline)
	assert.Equal(t, []slots.FreeSlot{{Start: monday9, End: monday9.Add(72 * time.Hour)}}, res.Slots)
}

func TestFindWithBusyTime(t *testing.T) {
	src := &fakeSource{events: []slots.RawEvent{
		{Start: monday9.Add(time.Hour), End: monday9.Add(2 * time.Hour)},
	}}
	res := newFinder(src).Find(context.Background(), Request{Source: "work", Days: 1, MinimumDuration: 30 * time.Minute})

	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.BusyCount)
	assert.Equal(t, []slots.FreeSlot{
		{Start: monday9, End: monday9.Add(time.Hour)},
		{Start: monday9.Add(2 * time.Hour), End: monday9.Add(24 * time.Hour)},
	}, res.Slots)
}

func TestFindNoAvailability(t *testing.T) {
	src := &fakeSource{events: []slots.RawEvent{
		{Start: monday9, End: monday9.Add(24 * time.Hour)},
	}}
	res := newFinder(src).Find(context.Background(), Request{Source: "work", Days: 1})

	assert.Equal(t, StatusNoAvailability, res.Status)
	assert.Empty(t, res.Slots)
	assert.NoError(t, res.Err)
}

func TestFindFetchFailureIsNotFree(t *testing.T) {
	boom := errors.New("connection refused")
	res := newFinder(&fakeSource{err: boom}).Find(context.Background(), Request{Source: "work"})

	assert.Equal(t, StatusFetchFailure, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, res.Slots)
}

func TestFindUnknownSourceIsInvalidRequest(t *testing.T) {
	err := fmt.Errorf("ics: %w: %q", ErrUnknownSource, "wrok")
	res := newFinder(&fakeSource{err: err}).Find(context.Background(), Request{Source: "wrok"})

	assert.Equal(t, StatusInvalidRequest, res.Status)
	assert.ErrorIs(t, res.Err, ErrUnknownSource)
	assert.Empty(t, res.Slots)
}

func TestFindRecoversPanickingSource(t *testing.T) {
	res := newFinder(&fakeSource{panics: true}).Find(context.Background(), Request{Source: "work"})

	assert.Equal(t, StatusFetchFailure, res.Status)
	assert.ErrorContains(t, res.Err, "feed exploded")
}

func TestFindNilSource(t *testing.T) {
	res := newFinder(nil).Find(context.Background(), Request{Source: "work"})
	assert.Equal(t, StatusFetchFailure, res.Status)
}

func TestFindInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"negative days", Request{Source: "work", Days: -1}, slots.ErrInvalidWindow},
		{"negative duration", Request{Source: "work", MinimumDuration: -time.Minute}, slots.ErrInvalidDuration},
		{"missing source", Request{}, nil},
		{"days past maximum", Request{Source: "work", Days: 213504}, slots.ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			res := newFinder(src).Find(context.Background(), tt.req)
			assert.Equal(t, StatusInvalidRequest, res.Status)
			require.Error(t, res.Err)
			if tt.want != nil {
				assert.ErrorIs(t, res.Err, tt.want)
			}
			assert.Zero(t, src.calls, "collaborator must not be reached")
		})
	}
}

func TestFindIsReentrant(t *testing.T) {
	src := &staticSource{events: []slots.RawEvent{{Start: monday9.Add(time.Hour), End: monday9.Add(3 * time.Hour)}}}
	f := newFinder(src)

	want := f.Find(context.Background(), Request{Source: "work", Days: 2})
	done := make(chan Result, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- f.Find(context.Background(), Request{Source: "work", Days: 2}) }()
	}
	for i := 0; i < 8; i++ {
		got := <-done
		assert.Equal(t, want.Slots, got.Slots)
	}
}

// staticSource is a read-only BusySource safe for concurrent use.
type staticSource struct {
	events []slots.RawEvent
}

func (s *staticSource) Busy(context.Context, string, time.Time, time.Time) ([]slots.RawEvent, error) {
	return s.events, nil
}
