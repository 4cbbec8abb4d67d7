package cloudlock_test

import (
	"testing"
	"time"

	"github.com/bobg/cloudlock"
)

var t0 = time.Date(1977, 8, 5, 0, 0, 0, 0, time.UTC)

func TestShouldRun(t *testing.T) {
	const (
		margin = 10 * time.Minute
		gap    = 25 * time.Minute
	)

	snap := &cloudlock.Snapshot{Start: t0, Expire: t0.Add(30 * time.Minute)}

	cases := []struct {
		name string
		snap *cloudlock.Snapshot
		at   time.Duration
		want bool
	}{
		{name: "nil", snap: nil, at: 0, want: false},
		{name: "just_acquired", snap: snap, at: 0, want: false},
		{name: "before_gap", snap: snap, at: 24 * time.Minute, want: false},
		{name: "expiring_at_gap", snap: snap, at: 25 * time.Minute, want: false},
		{name: "expired", snap: snap, at: 31 * time.Minute, want: false},
		{name: "renewed_after_gap", snap: &cloudlock.Snapshot{Start: t0, Expire: t0.Add(55 * time.Minute)}, at: 25 * time.Minute, want: true},
		{name: "renewed_within_margin", snap: &cloudlock.Snapshot{Start: t0, Expire: t0.Add(55 * time.Minute)}, at: 45 * time.Minute, want: false},
		{name: "renewed_just_outside_margin", snap: &cloudlock.Snapshot{Start: t0, Expire: t0.Add(55 * time.Minute)}, at: 45*time.Minute - time.Second, want: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.snap.ShouldRun(t0.Add(c.at), margin, gap); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestSnapshotBoundaries(t *testing.T) {
	snap := &cloudlock.Snapshot{Start: t0, Expire: t0.Add(time.Hour)}

	if snap.Expired(t0.Add(time.Hour - time.Millisecond)) {
		t.Error("expired before expiry")
	}
	if !snap.Expired(t0.Add(time.Hour)) {
		t.Error("not expired at expiry")
	}
	if !snap.Expiring(t0.Add(50*time.Minute), 10*time.Minute) {
		t.Error("not expiring at exactly the margin")
	}
	if snap.Started(t0.Add(time.Minute-time.Millisecond), time.Minute) {
		t.Error("started before the gap elapsed")
	}
	if !snap.Started(t0.Add(time.Minute), time.Minute) {
		t.Error("not started once the gap elapsed")
	}

	var none *cloudlock.Snapshot
	if !none.Expired(t0) || !none.Expiring(t0, 0) || none.Started(t0, 0) {
		t.Error("nil snapshot should be expired, expiring, and not started")
	}
}

func TestDescribe(t *testing.T) {
	snap := &cloudlock.Snapshot{Start: t0, Expire: t0.Add(30 * time.Minute)}

	if got, want := snap.Describe(t0.Add(5*time.Minute)), "lease{expires in 25m00s, held for 05m00s}"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	var none *cloudlock.Snapshot
	if got, want := none.Describe(t0), "lease{none}"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00s"},
		{1500 * time.Millisecond, "01s"},
		{1501 * time.Millisecond, "02s"},
		{59*time.Second + 600*time.Millisecond, "01m00s"},
		{-1500 * time.Millisecond, "-01s"},
		{59 * time.Second, "59s"},
		{time.Minute, "01m00s"},
		{time.Hour + 5*time.Minute, "01h05m00s"},
		{26*time.Hour + 3*time.Second, "01d02h00m03s"},
		{-90 * time.Second, "-01m30s"},
	}

	for _, c := range cases {
		if got := cloudlock.FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%s): got %q, want %q", c.d, got, c.want)
		}
	}
}
