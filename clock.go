package cloudlock

import "time"

// Clock is the source of wall-clock time for the renewal and supervisor loops.
// It can be replaced with a mock implementation for testing purposes.
// Note that one good mock implementation is in github.com/benbjohnson/clock, qv.
type Clock interface {
	Now() time.Time
	After(time.Duration) <-chan time.Time
}

// DefaultClock implements the [Clock] interface in terms of the stdlib [time].
type DefaultClock struct{}

func (DefaultClock) Now() time.Time                         { return time.Now() }
func (DefaultClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// nowMillis reads c once and truncates the result to the millisecond,
// the resolution at which lease times are persisted.
func nowMillis(c Clock) time.Time {
	return time.UnixMilli(c.Now().UnixMilli())
}

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return DefaultClock{}
	}
	return c
}
