package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleFeed covers a daily series with an EXDATE and a moved instance, a
// UTC event, a transparent DURATION event, an all-day event and a cancelled
// event. Los Angeles is on PDT (UTC-7) for the whole week.
var sampleFeed = crlf(
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//slotfinder//test//EN",
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTART;TZID=America/Los_Angeles:20261019T090000",
	"DTEND;TZID=America/Los_Angeles:20261019T093000",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE;TZID=America/Los_Angeles:20261021T090000",
	"SUMMARY:Standup",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"RECURRENCE-ID;TZID=America/Los_Angeles:20261020T090000",
	"DTSTART;TZID=America/Los_Angeles:20261020T130000",
	"DTEND;TZID=America/Los_Angeles:20261020T140000",
	"SUMMARY:Standup (moved)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:lunch",
	"DTSTART:20261019T190000Z",
	"DTEND:20261019T200000Z",
	"SUMMARY:Lunch",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:focus",
	"DTSTART:20261019T210000Z",
	"DURATION:PT2H",
	"TRANSP:TRANSPARENT",
	"SUMMARY:Focus time",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:offsite",
	"DTSTART;VALUE=DATE:20261022",
	"SUMMARY:Offsite",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:dropped",
	"DTSTART:20261019T220000Z",
	"DTEND:20261019T230000Z",
	"STATUS:CANCELLED",
	"SUMMARY:Dropped",
	"END:VEVENT",
	"END:VCALENDAR",
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func utc(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func findByUID(t *testing.T, events []VEvent, uid string, override bool) VEvent {
	t.Helper()
	for _, ev := range events {
		if ev.UID == uid && ev.IsOverride == override {
			return ev
		}
	}
	t.Fatalf("event %q (override=%v) not found", uid, override)
	return VEvent{}
}

func TestParseICS(t *testing.T) {
	src := Source{ID: "work", URL: "file:///tmp/work.ics"}
	events, err := ParseICS(src, []byte(sampleFeed), nil)
	require.NoError(t, err)
	require.Len(t, events, 6)

	standup := findByUID(t, events, "standup", false)
	assert.Equal(t, "work", standup.Source.ID)
	assert.Equal(t, "Standup", standup.Summary)
	assert.Equal(t, "America/Los_Angeles", standup.Start.Location().String())
	assert.True(t, standup.Start.Equal(utc(19, 16, 0)))
	assert.True(t, standup.End.Equal(utc(19, 16, 30)))
	assert.Equal(t, "FREQ=DAILY;COUNT=5", standup.RawRRule)
	require.Len(t, standup.ExDates, 1)
	assert.True(t, standup.ExDates[0].Equal(utc(21, 16, 0)))
	assert.True(t, standup.Blocks())

	moved := findByUID(t, events, "standup", true)
	require.NotNil(t, moved.Recurrence)
	assert.True(t, moved.Recurrence.Equal(utc(20, 16, 0)))
	assert.True(t, moved.Start.Equal(utc(20, 20, 0)))

	focus := findByUID(t, events, "focus", false)
	assert.True(t, focus.Transparent)
	assert.False(t, focus.Blocks())
	assert.Equal(t, 2*time.Hour, focus.End.Sub(focus.Start))

	offsite := findByUID(t, events, "offsite", false)
	assert.True(t, offsite.AllDay)
	assert.True(t, offsite.Start.Equal(utc(22, 0, 0)))
	assert.True(t, offsite.End.Equal(utc(23, 0, 0)))

	dropped := findByUID(t, events, "dropped", false)
	assert.True(t, dropped.Cancelled)
	assert.False(t, dropped.Blocks())
}

func TestParseICSFloatingZone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	feed := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:floating",
		"DTSTART:20261020T090000",
		"DTEND:20261020T100000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:holiday",
		"DTSTART;VALUE=DATE:20261021",
		"DTEND;VALUE=DATE:20261022",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	events, err := ParseICS(Source{ID: "kr"}, []byte(feed), seoul)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// 09:00 KST == 00:00 UTC.
	assert.True(t, findByUID(t, events, "floating", false).Start.Equal(utc(20, 0, 0)))
	holiday := findByUID(t, events, "holiday", false)
	assert.True(t, holiday.AllDay)
	assert.True(t, holiday.Start.Equal(utc(20, 15, 0)))
	assert.True(t, holiday.End.Equal(utc(21, 15, 0)))
}

func TestParseICSSkipsBrokenEvents(t *testing.T) {
	feed := crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"DTSTART:20261019T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:no-start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"DTSTART:20261019T100000Z",
		"DTEND:20261019T110000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	events, err := ParseICS(Source{ID: "x"}, []byte(feed), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].UID)
}

func TestParseICSErrors(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = ParseICS(Source{ID: "x"}, []byte("<html>not a calendar</html>"), nil)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "PT1H30M", want: 90 * time.Minute},
		{in: "P1D", want: 24 * time.Hour},
		{in: "P1W", want: 7 * 24 * time.Hour},
		{in: "P1DT2H", want: 26 * time.Hour},
		{in: "PT45S", want: 45 * time.Second},
		{in: "-PT15M", want: -15 * time.Minute},
		{in: "1H", wantErr: true},
		{in: "P", wantErr: true},
		{in: "PT5X", wantErr: true},
		{in: "P1H", wantErr: true},
		{in: "PT5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
