package lib

import "time"

// Window is the sync horizon around the current time.
type Window struct {
	Past   time.Duration
	Future time.Duration
}

// Bounds returns [now-Past, now+Future] truncated to the second.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC().Truncate(time.Second)
	return now.Add(-w.Past), now.Add(w.Future)
}

// Window returns the configured sync horizon.
func (c Config) Window() Window {
	return Window{Past: c.WindowPast, Future: c.WindowFuture}
}

// Overlaps reports whether an event spanning [start, end] belongs to the
// window: it starts before maxDate and is still running after minDate.
// Zero-length events belong when they start inside the window. This matches
// the calendar API's timeMin/timeMax filter and the store's window queries.
func Overlaps(start, end, minDate, maxDate time.Time) bool {
	if !start.Before(maxDate) {
		return false
	}
	return end.After(minDate) || !start.Before(minDate)
}
