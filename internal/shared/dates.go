package shared

import "time"

// BusinessDay truncates t to the calendar day observed in loc and returns it as
// midnight UTC, the form stored in DATE columns.
func BusinessDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the calendar date of t, read in t's own location, as
// midnight UTC. Use it for dates supplied by an operator.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
