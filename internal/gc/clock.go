package gc

import "time"

// Clock is the system clock and time-zone boundary (spec §6): now()
// returns wall-clock milliseconds, and the calendar-day boundary
// computation in the garbage policy must use the backend-supplied
// system time zone, not UTC, to match operator expectations around
// daily scheduling (spec §9).
type Clock interface {
	NowMillis() int64
	Location() *time.Location
}

// SystemClock is the production Clock, backed by the process's local
// wall clock and time zone.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

func (SystemClock) Location() *time.Location {
	return time.Local
}

// dayStart returns the start of the calendar day containing tMillis (a
// Unix millisecond timestamp) in loc, with hours/minutes/seconds/ms
// zeroed — the D(x) function from spec §4.2.
func dayStart(tMillis int64, loc *time.Location) int64 {
	t := time.UnixMilli(tMillis).In(loc)
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return d.UnixMilli()
}
