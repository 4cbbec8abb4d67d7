package cloudlock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/mem"
	"github.com/bobg/cloudlock/testutil"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()

	mockClock := clock.NewMock()
	mockClock.Set(t0)

	var (
		reg     = prometheus.NewRegistry()
		metrics = cloudlock.NewMetrics(reg, "validator")
		store   = mem.New()
	)

	newRenewer := func(holder string) *cloudlock.Renewer {
		return &cloudlock.Renewer{
			Store:  store,
			Label:  "validator",
			Holder: holder,
			Dur:    30 * time.Minute,
			Guard: &cloudlock.SkewGuard{
				Oracle:  &testutil.Oracle{Clock: mockClock, Offset: 3 * time.Second},
				Warn:    20 * time.Second,
				Fail:    40 * time.Second,
				Clock:   mockClock,
				Metrics: metrics,
			},
			Clock:   mockClock,
			Metrics: metrics,
		}
	}

	a := newRenewer("a")
	if err := a.Pass(ctx); err != nil {
		t.Fatal(err)
	}
	if got := promtest.ToFloat64(metrics.LeaseHeld); got != 1 {
		t.Errorf("got lease_held %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.ClockSkew); got != 3 {
		t.Errorf("got clock_skew_seconds %v, want 3", got)
	}

	if err := newRenewer("b").Pass(ctx); !errors.Is(err, cloudlock.ErrHeld) {
		t.Fatalf("got %v, want ErrHeld", err)
	}
	if got := promtest.ToFloat64(metrics.LeaseHeld); got != 0 {
		t.Errorf("got lease_held %v after a held pass, want 0", got)
	}

	mockClock.Add(time.Minute)
	if err := a.Pass(ctx); err != nil {
		t.Fatal(err)
	}

	for result, want := range map[string]float64{"acquired": 1, "held": 1, "renewed": 1, "takeover": 0} {
		if got := promtest.ToFloat64(metrics.Passes.WithLabelValues(result)); got != want {
			t.Errorf("got %v %s passes, want %v", got, result, want)
		}
	}

	launcher := new(testutil.Launcher)
	s, lease := newSupervisor(mockClock, launcher)
	s.Metrics = metrics
	lease.set(t0.Add(-30*time.Minute), t0.Add(30*time.Minute))

	pass(t, s)
	if got := promtest.ToFloat64(metrics.ProcessStarts); got != 1 {
		t.Errorf("got process_starts %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.ProcessRunning); got != 1 {
		t.Errorf("got process_running %v, want 1", got)
	}

	lease.snap.Store(nil)
	pass(t, s)
	pass(t, s)
	if got := promtest.ToFloat64(metrics.ProcessStops.WithLabelValues("forced")); got != 1 {
		t.Errorf("got %v forced stops, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.ProcessRunning); got != 0 {
		t.Errorf("got process_running %v after stop, want 0", got)
	}

	if n, err := promtest.GatherAndCount(reg); err != nil {
		t.Fatal(err)
	} else if n == 0 {
		t.Error("nothing registered")
	}
}
