package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bobg/cloudlock"
)

// Renewer tests the lease protocol of [cloudlock.Renewer] against a [cloudlock.Store] implementation:
// acquisition, renewal, contention, takeover, and a takeover that loses a race.
func Renewer(ctx context.Context, tb testing.TB, factory Factory) {
	tb.Helper()

	store, err := factory()
	if err != nil {
		tb.Fatal(err)
	}

	var (
		mockClock = clock.NewMock()
		label     = "renewer-test-" + uuid.NewString()
		dur       = 30 * time.Minute
	)
	mockClock.Set(t0)

	newRenewer := func(holder string, store cloudlock.Store) *cloudlock.Renewer {
		return &cloudlock.Renewer{
			Store:  store,
			Label:  label,
			Holder: holder,
			Dur:    dur,
			Clock:  mockClock,
		}
	}

	a := newRenewer("node-a", store)
	b := newRenewer("node-b", store)

	// No record: the first acquisition succeeds with start = now.
	if err := a.Pass(ctx); err != nil {
		tb.Fatalf("Error acquiring absent lease: %s", err)
	}
	checkSnapshot(tb, a.Snapshot(), t0, t0.Add(dur))

	// Someone else holds an unexpired lease.
	err = b.Pass(ctx)
	if !errors.Is(err, cloudlock.ErrHeld) {
		tb.Errorf("got error %v, want ErrHeld", err)
	}
	if snap := b.Snapshot(); snap != nil {
		tb.Errorf("got snapshot %v for non-holder, want nil", snap)
	}

	mockClock.Add(2 * time.Minute) // i.e. t0+2m

	// Renewal keeps the start time and advances the expiry.
	if err := a.Pass(ctx); err != nil {
		tb.Fatalf("Error renewing lease: %s", err)
	}
	checkSnapshot(tb, a.Snapshot(), t0, t0.Add(2*time.Minute+dur))

	rec, err := store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	if rec.Holder != "node-a" || !rec.Start.Equal(t0) {
		tb.Errorf("got record holder %s start %s, want node-a %s", rec.Holder, rec.Start, t0)
	}

	// node-a stops renewing; once its lease has lapsed node-b takes over.
	mockClock.Add(dur) // i.e. t0+32m, exactly at expiry: not yet expired
	err = b.Pass(ctx)
	if !errors.Is(err, cloudlock.ErrHeld) {
		tb.Errorf("got error %v at the instant of expiry, want ErrHeld", err)
	}

	mockClock.Add(time.Second) // i.e. t0+32m1s
	takeover := mockClock.Now()
	if err := b.Pass(ctx); err != nil {
		tb.Fatalf("Error taking over expired lease: %s", err)
	}
	checkSnapshot(tb, b.Snapshot(), takeover, takeover.Add(dur))

	// node-a now finds node-b holding the lease and demotes itself.
	err = a.Pass(ctx)
	if !errors.Is(err, cloudlock.ErrHeld) {
		tb.Errorf("got error %v, want ErrHeld", err)
	}
	if snap := a.Snapshot(); snap != nil {
		tb.Errorf("got snapshot %v after losing lease, want nil", snap)
	}

	// node-c reads node-b's lapsed record, but node-b renews before node-c writes.
	// node-c's takeover carries the stale version and must fail.
	mockClock.Add(dur + time.Second)

	c := newRenewer("node-c", &interceptStore{
		Store: store,
		afterGet: func() {
			if err := b.Pass(ctx); err != nil {
				tb.Errorf("Error renewing between read and write: %s", err)
			}
		},
	})
	err = c.Pass(ctx)
	if !errors.Is(err, cloudlock.ErrConflict) {
		tb.Errorf("got error %v for stale takeover, want ErrConflict", err)
	}
	if snap := c.Snapshot(); snap != nil {
		tb.Errorf("got snapshot %v after losing race, want nil", snap)
	}

	rec, err = store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	if rec.Holder != "node-b" {
		tb.Errorf("got holder %s after race, want node-b", rec.Holder)
	}
	if !rec.Start.Equal(takeover) {
		tb.Errorf("got start %s after renewal, want %s", rec.Start, takeover)
	}
}

// interceptStore calls afterGet between reading a record and returning it.
type interceptStore struct {
	cloudlock.Store
	afterGet func()
}

func (s *interceptStore) Get(ctx context.Context, label string) (*cloudlock.Record, error) {
	rec, err := s.Store.Get(ctx, label)
	if s.afterGet != nil {
		s.afterGet()
	}
	return rec, err
}

func checkSnapshot(tb testing.TB, snap *cloudlock.Snapshot, start, expire time.Time) {
	tb.Helper()

	if snap == nil {
		tb.Fatal("got nil snapshot")
	}
	if !snap.Start.Equal(start) {
		tb.Errorf("got start %s, want %s", snap.Start, start)
	}
	if !snap.Expire.Equal(expire) {
		tb.Errorf("got expire %s, want %s", snap.Expire, expire)
	}
}
