package cloudlock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bobg/errors"
)

// Node contends for a lease and runs the guarded process while it holds it.
// See [Node.Run].
type Node struct {
	Renewer    *Renewer
	Supervisor *Supervisor
}

// Option is the type of an option that can be passed to [NewNode].
type Option func(*Node)

// WithClock is an [Option] that sets the clock used by both loops.
func WithClock(c Clock) Option {
	return func(n *Node) {
		n.Renewer.Clock = c
		n.Renewer.Guard.setClock(c)
		n.Supervisor.Clock = c
	}
}

// WithLogger is an [Option] that sets the logger used by both loops.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		n.Renewer.Logger = l
		if n.Renewer.Guard != nil {
			n.Renewer.Guard.Logger = l
		}
		n.Supervisor.Logger = l
	}
}

// WithMetrics is an [Option] that sets the metrics updated by both loops.
func WithMetrics(m *Metrics) Option {
	return func(n *Node) {
		n.Renewer.Metrics = m
		if n.Renewer.Guard != nil {
			n.Renewer.Guard.Metrics = m
		}
		n.Supervisor.Metrics = m
	}
}

// NewNode wires a [Renewer] and a [Supervisor] from cfg.
// The oracle may be nil, in which case no clock-skew check is made.
func NewNode(cfg Config, store Store, oracle Oracle, launcher Launcher, opts ...Option) *Node {
	r := &Renewer{
		Store:  store,
		Label:  cfg.Label,
		Holder: cfg.Holder,
		Dur:    cfg.Lease,
		Period: cfg.RenewPeriod,
	}
	if oracle != nil {
		r.Guard = &SkewGuard{
			Oracle: oracle,
			Warn:   cfg.SkewWarn,
			Fail:   cfg.SkewFail,
		}
	}

	n := &Node{
		Renewer: r,
		Supervisor: &Supervisor{
			Launcher:    launcher,
			Command:     cfg.Command,
			Lease:       r,
			Period:      cfg.CheckPeriod,
			StartGap:    cfg.StartGap,
			Margin:      cfg.Margin,
			StopTimeout: cfg.StopTimeout,
		},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Run runs the renewal loop and the supervisor loop concurrently.
// The loops share nothing but the renewer's published snapshot.
//
// Run returns when the supervisor fails or the context is canceled.
// If the child process exited on its own while the lease was held,
// the error is an [*ExitError] carrying the child's exit code.
// The renewal loop is stopped before Run returns.
// The lease is not released; it lapses at its expiry.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = n.Renewer.Run(ctx)
	}()

	err := n.Supervisor.Run(ctx)

	cancel()
	wg.Wait()

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return errors.Wrap(err, "supervising process")
}

func (g *SkewGuard) setClock(c Clock) {
	if g != nil {
		g.Clock = c
	}
}
