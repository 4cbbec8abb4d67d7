package cloudlock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/mem"
	"github.com/bobg/cloudlock/testutil"
)

func factory() (cloudlock.Store, error) {
	return mem.New(), nil
}

func TestRenewer(t *testing.T) {
	testutil.Renewer(context.Background(), t, factory)
}

func TestRenewerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &cloudlock.Renewer{
		Store:  mem.New(),
		Label:  "validator",
		Holder: "a",
		Dur:    2 * time.Second,
		Period: 20 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	first := waitSnapshot(t, r, func(s *cloudlock.Snapshot) bool { return s != nil })
	second := waitSnapshot(t, r, func(s *cloudlock.Snapshot) bool { return s != nil && s.Expire.After(first.Expire) })

	if !second.Start.Equal(first.Start) {
		t.Errorf("renewal moved start from %s to %s", first.Start, second.Start)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if snap := r.Snapshot(); snap != nil {
		t.Errorf("got snapshot %s after Run returned", snap)
	}
}

func waitSnapshot(t *testing.T, r *cloudlock.Renewer, pred func(*cloudlock.Snapshot) bool) *cloudlock.Snapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := r.Snapshot()
		if pred(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for snapshot, last %s", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
