package cloudlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobg/errors"
)

// Launcher starts child processes.
type Launcher interface {
	Launch(ctx context.Context, argv []string) (Process, error)
}

// Process is a running (or exited) child process.
type Process interface {
	Alive() bool
	ExitCode() int    // meaningful only once Alive is false
	Terminate() error // request cooperative termination
	Kill() error      // terminate immediately
	Close() error     // wait for exit and release output forwarding
}

// SnapshotSource supplies the latest published lease snapshot.
// [*Renewer] is one.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// State is the supervisor's view of the child process.
type State int

const (
	NotRunning State = iota
	Running
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not-running"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Supervisor starts and stops a child process according to the latest lease snapshot.
// It never touches the lease store.
// Its methods must be called from a single goroutine.
type Supervisor struct {
	Launcher Launcher
	Command  []string
	Lease    SnapshotSource
	Period   time.Duration // how often to run a pass

	// StartGap is how long the lease must have been held before the process may start.
	StartGap time.Duration

	// Margin is how long before lease expiry the process is asked to stop.
	Margin time.Duration

	// StopTimeout bounds the graceful shutdown in Run before the process is killed.
	StopTimeout time.Duration

	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics

	proc       Process
	stopping   bool // a stop was requested for proc
	terminated bool // a graceful termination request was sent to proc
}

// State reports whether the supervisor has a child process.
func (s *Supervisor) State() State {
	if s.proc == nil {
		return NotRunning
	}
	return Running
}

// Run runs a pass every s.Period until a pass fails or the context is canceled.
// A failed pass is fatal: the child exited unexpectedly ([*ExitError]) or could not be launched.
// On cancellation, Run stops any running child before returning the context's error.
func (s *Supervisor) Run(ctx context.Context) error {
	clock := clockOrDefault(s.Clock)

	for {
		if err := s.Pass(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case <-clock.After(s.Period):
		}
	}
}

// Pass inspects the latest snapshot once and performs at most one lifecycle transition.
func (s *Supervisor) Pass(ctx context.Context) error {
	var (
		now    = clockOrDefault(s.Clock).Now()
		snap   = s.Lease.Snapshot()
		run    = snap.ShouldRun(now, s.Margin, s.StartGap)
		logger = loggerOrDefault(s.Logger)
	)

	if s.proc == nil {
		if !run {
			return nil
		}
		logger.Info("starting process", "command", s.Command, "lease", snap.Describe(now))
		proc, err := s.Launcher.Launch(ctx, s.Command)
		if err != nil {
			return errors.Wrap(err, "launching process")
		}
		s.proc = proc
		s.Metrics.started()
		s.Metrics.running(true)
		return nil
	}

	if !s.proc.Alive() {
		code := s.proc.ExitCode()
		requested := s.stopping
		s.retire()

		if !requested && run {
			logger.Error("process exited unexpectedly", "code", code)
			return &ExitError{Code: code}
		}
		logger.Info("process stopped", "code", code)
		return nil
	}

	if run {
		if s.stopping {
			// The lease was restored; the stop request no longer stands.
			logger.Info("lease restored, process keeps running", "lease", snap.Describe(now))
			s.stopping = false
			s.terminated = false
		}
		return nil
	}

	s.stopping = true

	if snap == nil || snap.Expired(now) {
		logger.Warn("lease lost, killing process", "lease", snap.Describe(now))
		s.Metrics.stopped("forced")
		if err := s.proc.Kill(); err != nil {
			logger.Error("killing process", "error", err)
		}
		return nil
	}

	if !s.terminated {
		logger.Info("lease expiring, stopping process", "lease", snap.Describe(now))
		s.Metrics.stopped("graceful")
		if err := s.proc.Terminate(); err != nil {
			logger.Error("terminating process", "error", err)
		}
		s.terminated = true
	}

	return nil
}

// shutdown stops the child, if any, when the supervisor itself is stopping.
func (s *Supervisor) shutdown() {
	if s.proc == nil {
		return
	}

	var (
		clock  = clockOrDefault(s.Clock)
		logger = loggerOrDefault(s.Logger)
	)

	if s.proc.Alive() {
		logger.Info("supervisor stopping, terminating process")
		s.Metrics.stopped("graceful")
		if err := s.proc.Terminate(); err != nil {
			logger.Error("terminating process", "error", err)
		}

		deadline := clock.After(s.StopTimeout)
	WAIT:
		for s.proc.Alive() {
			select {
			case <-deadline:
				logger.Warn("process did not stop in time, killing it", "timeout", s.StopTimeout)
				s.Metrics.stopped("forced")
				if err := s.proc.Kill(); err != nil {
					logger.Error("killing process", "error", err)
				}
				break WAIT

			case <-clock.After(100 * time.Millisecond):
			}
		}
	}

	s.retire()
}

func (s *Supervisor) retire() {
	if err := s.proc.Close(); err != nil {
		loggerOrDefault(s.Logger).Debug("closing process", "error", err)
	}
	s.proc = nil
	s.stopping = false
	s.terminated = false
	s.Metrics.running(false)
}

// ExitError is the error returned by [Supervisor.Run] and [Supervisor.Pass]
// when the child process exits without having been asked to stop.
// Code is the child's exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited unexpectedly with code %d", e.Code)
}
