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

func nodeConfig(holder string) cloudlock.Config {
	cfg := cloudlock.DefaultConfig()
	cfg.Label = "validator"
	cfg.Holder = holder
	cfg.Command = []string{"validator"}
	cfg.Lease = 400 * time.Millisecond
	cfg.RenewPeriod = 50 * time.Millisecond
	cfg.CheckPeriod = 10 * time.Millisecond
	cfg.StartGap = 100 * time.Millisecond
	cfg.Margin = 100 * time.Millisecond
	cfg.StopTimeout = time.Second
	return cfg
}

func TestNodeFailover(t *testing.T) {
	ctx := context.Background()

	var (
		store     = mem.New()
		launcherA = &testutil.Launcher{ExitOnTerminate: true}
		launcherB = &testutil.Launcher{ExitOnTerminate: true}
		a         = cloudlock.NewNode(nodeConfig("a"), store, nil, launcherA)
		b         = cloudlock.NewNode(nodeConfig("b"), store, nil, launcherB)
	)

	ctxA, cancelA := context.WithCancel(ctx)
	defer cancelA()
	doneA := make(chan error, 1)
	go func() {
		doneA <- a.Run(ctxA)
	}()

	waitLaunch(t, launcherA)

	ctxB, cancelB := context.WithCancel(ctx)
	defer cancelB()
	doneB := make(chan error, 1)
	go func() {
		doneB <- b.Run(ctxB)
	}()

	time.Sleep(600 * time.Millisecond)
	if launcherB.Last() != nil {
		t.Fatal("standby launched while the active node held the lease")
	}

	cancelA()
	if err := <-doneA; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v from active node, want context.Canceled", err)
	}
	if p := launcherA.Last(); p.Alive() || !p.Closed() {
		t.Error("active node's process was not stopped")
	}

	// The standby takes over once the abandoned lease lapses.
	waitLaunch(t, launcherB)

	rec, err := store.Get(ctx, "validator")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Holder != "b" {
		t.Errorf("got holder %s, want b", rec.Holder)
	}

	cancelB()
	if err := <-doneB; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v from standby, want context.Canceled", err)
	}
}

func TestNodeExit(t *testing.T) {
	launcher := new(testutil.Launcher)
	node := cloudlock.NewNode(nodeConfig("a"), mem.New(), nil, launcher)

	done := make(chan error, 1)
	go func() {
		done <- node.Run(context.Background())
	}()

	waitLaunch(t, launcher).Exit(42)

	err := <-done
	var exitErr *cloudlock.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("got %v, want ExitError", err)
	}
	if exitErr.Code != 42 {
		t.Errorf("got code %d, want 42", exitErr.Code)
	}
	if snap := node.Renewer.Snapshot(); snap != nil {
		t.Errorf("renewer still publishing %s after Run returned", snap)
	}
}

func TestNewNodeOptions(t *testing.T) {
	var (
		oracle = &testutil.Oracle{Clock: cloudlock.DefaultClock{}}
		clk    = cloudlock.DefaultClock{}
	)

	node := cloudlock.NewNode(nodeConfig("a"), mem.New(), oracle, new(testutil.Launcher), cloudlock.WithClock(clk))

	if node.Renewer.Guard == nil {
		t.Fatal("no skew guard despite an oracle")
	}
	if node.Renewer.Guard.Clock != clk || node.Renewer.Clock != clk || node.Supervisor.Clock != clk {
		t.Error("clock option not applied everywhere")
	}
	if node.Supervisor.Lease != node.Renewer {
		t.Error("supervisor does not read the renewer's snapshot")
	}

	node = cloudlock.NewNode(nodeConfig("a"), mem.New(), nil, new(testutil.Launcher), cloudlock.WithClock(clk))
	if node.Renewer.Guard != nil {
		t.Error("skew guard without an oracle")
	}
}
