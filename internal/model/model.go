package model

import "time"

// Occurrence is a single concrete busy instance of a calendar event, after
// recurrence expansion. Start/End keep the zone the feed declared.
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey identifies one occurrence of a recurring event; it is the
	// UTC start time in RFC 3339.
	InstanceKey string

	Summary string
	AllDay  bool

	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}
