package cloudlock

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is an immutable view of the lease as last written or observed by a [Renewer].
// A nil *Snapshot means this node does not believe it holds the lease;
// all methods accept a nil receiver.
type Snapshot struct {
	Start  time.Time
	Expire time.Time
}

// Expired tells whether the lease has lapsed at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.Expire)
}

// Expiring tells whether now is within margin of the lease's expiry.
func (s *Snapshot) Expiring(now time.Time, margin time.Duration) bool {
	return s == nil || !now.Add(margin).Before(s.Expire)
}

// Started tells whether gap has elapsed since the lease was acquired.
func (s *Snapshot) Started(now time.Time, gap time.Duration) bool {
	return s != nil && !now.Before(s.Start.Add(gap))
}

// ShouldRun tells whether the guarded process may run at now:
// the lease is held, is neither expired nor within margin of expiring,
// and gap has elapsed since it was acquired.
func (s *Snapshot) ShouldRun(now time.Time, margin, gap time.Duration) bool {
	return s != nil && !s.Expired(now) && !s.Expiring(now, margin) && s.Started(now, gap)
}

// Describe renders the snapshot relative to now.
func (s *Snapshot) Describe(now time.Time) string {
	if s == nil {
		return "lease{none}"
	}
	return fmt.Sprintf("lease{expires in %s, held for %s}", FormatDuration(s.Expire.Sub(now)), FormatDuration(now.Sub(s.Start)))
}

func (s *Snapshot) String() string {
	return s.Describe(time.Now())
}

// FormatDuration renders d compactly as days, hours, minutes, and seconds,
// e.g. "01h05m00s", omitting leading zero units.
// Fractions of a second round up only when they exceed half a second, so 1.5s renders as "01s".
func FormatDuration(d time.Duration) string {
	var sign string
	if d < 0 {
		sign = "-"
		d = -d
	}

	ms := d.Milliseconds()
	t := ms / 1000
	if ms%1000 > 500 {
		t++
	}

	var (
		sec  = t % 60
		min  = (t / 60) % 60
		hour = (t / 3600) % 24
		day  = t / 86400
	)

	var (
		b       strings.Builder
		leading = true
	)
	b.WriteString(sign)
	for _, unit := range []struct {
		n      int64
		suffix string
	}{{day, "d"}, {hour, "h"}, {min, "m"}} {
		if leading && unit.n == 0 {
			continue
		}
		leading = false
		fmt.Fprintf(&b, "%02d%s", unit.n, unit.suffix)
	}
	fmt.Fprintf(&b, "%02ds", sec)

	return b.String()
}
