package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobg/cloudlock"
)

// Factory creates the [cloudlock.Store] under test.
type Factory func() (cloudlock.Store, error)

var t0 = time.Date(1977, 8, 5, 0, 0, 0, 0, time.UTC)

// Store tests the conditional-write behavior of a [cloudlock.Store] implementation.
func Store(ctx context.Context, tb testing.TB, factory Factory) {
	tb.Helper()

	store, err := factory()
	if err != nil {
		tb.Fatal(err)
	}

	label := "store-test-" + uuid.NewString()

	if _, err := store.Get(ctx, label); !errors.Is(err, cloudlock.ErrNotFound) {
		tb.Fatalf("got error %v, want ErrNotFound", err)
	}

	err = store.Put(ctx, record(label, "a", t0, "v0"), "v-none")
	if !errors.Is(err, cloudlock.ErrConflict) {
		tb.Errorf("got error %v writing absent record with a version, want ErrConflict", err)
	}

	first := record(label, "a", t0, "v1")
	if err := store.Put(ctx, first, cloudlock.MustNotExist); err != nil {
		tb.Fatalf("Error creating record: %s", err)
	}

	got, err := store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	checkRecord(tb, got, first)

	err = store.Put(ctx, record(label, "b", t0, "v2"), cloudlock.MustNotExist)
	if !errors.Is(err, cloudlock.ErrConflict) {
		tb.Errorf("got error %v creating existing record, want ErrConflict", err)
	}

	err = store.Put(ctx, record(label, "b", t0, "v2"), "not-v1")
	if !errors.Is(err, cloudlock.ErrConflict) {
		tb.Errorf("got error %v writing with wrong version, want ErrConflict", err)
	}

	got, err = store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	checkRecord(tb, got, first)

	second := record(label, "a", t0.Add(time.Minute), "v2")
	second.Start = t0
	if err := store.Put(ctx, second, "v1"); err != nil {
		tb.Fatalf("Error writing with current version: %s", err)
	}

	// The old version is now stale.
	err = store.Put(ctx, record(label, "c", t0, "v3"), "v1")
	if !errors.Is(err, cloudlock.ErrConflict) {
		tb.Errorf("got error %v writing with stale version, want ErrConflict", err)
	}

	got, err = store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	checkRecord(tb, got, second)

	// Competing writers with the same expected version: exactly one wins.
	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		holder := "racer-" + uuid.NewString()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Put(ctx, record(label, holder, t0.Add(2*time.Minute), uuid.NewString()), "v2")
			switch {
			case err == nil:
				mu.Lock()
				winners = append(winners, holder)
				mu.Unlock()
			case !errors.Is(err, cloudlock.ErrConflict):
				tb.Errorf("racing write: got error %v, want nil or ErrConflict", err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		tb.Fatalf("got %d winning writes, want 1", len(winners))
	}

	got, err = store.Get(ctx, label)
	if err != nil {
		tb.Fatal(err)
	}
	if got.Holder != winners[0] {
		tb.Errorf("got holder %s, want winner %s", got.Holder, winners[0])
	}
}

func record(label, holder string, now time.Time, version string) cloudlock.Record {
	return cloudlock.Record{
		Label:   label,
		Holder:  holder,
		Start:   now,
		Expire:  now.Add(30 * time.Minute),
		Version: version,
	}
}

func checkRecord(tb testing.TB, got *cloudlock.Record, want cloudlock.Record) {
	tb.Helper()

	if got.Label != want.Label || got.Holder != want.Holder || got.Version != want.Version {
		tb.Errorf("got record %+v, want %+v", *got, want)
	}
	if !got.Start.Equal(want.Start) || !got.Expire.Equal(want.Expire) {
		tb.Errorf("got times [%s, %s], want [%s, %s]", got.Start, got.Expire, want.Start, want.Expire)
	}
}
