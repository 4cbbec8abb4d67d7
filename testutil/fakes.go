package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/bobg/cloudlock"
)

// Oracle is a [cloudlock.Oracle] that reports the time of an underlying clock plus a fixed offset.
type Oracle struct {
	Clock  cloudlock.Clock
	Offset time.Duration
	Err    error
}

func (o *Oracle) Now(context.Context) (time.Time, error) {
	if o.Err != nil {
		return time.Time{}, o.Err
	}
	return o.Clock.Now().Add(o.Offset), nil
}

// Launcher is a [cloudlock.Launcher] that creates [Process] fakes and remembers them.
type Launcher struct {
	// Err, if set, is returned from Launch instead of a process.
	Err error

	// ExitOnTerminate makes launched processes exit (with code 0) when asked to terminate.
	ExitOnTerminate bool

	mu        sync.Mutex
	processes []*Process
}

func (l *Launcher) Launch(_ context.Context, argv []string) (cloudlock.Process, error) {
	if l.Err != nil {
		return nil, l.Err
	}

	p := &Process{
		Argv:            argv,
		exitOnTerminate: l.ExitOnTerminate,
	}

	l.mu.Lock()
	l.processes = append(l.processes, p)
	l.mu.Unlock()

	return p, nil
}

// Processes returns the processes launched so far, oldest first.
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*Process(nil), l.processes...)
}

// Last returns the most recently launched process, or nil.
func (l *Launcher) Last() *Process {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.processes) == 0 {
		return nil
	}
	return l.processes[len(l.processes)-1]
}

// Process is a fake [cloudlock.Process].
// It stays alive until Exit is called, or until it is killed.
type Process struct {
	Argv []string

	exitOnTerminate bool

	mu         sync.Mutex
	exited     bool
	code       int
	terminates int
	kills      int
	closed     bool
}

// Exit makes the process exit with the given code.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.exited {
		p.exited = true
		p.code = code
	}
}

func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *Process) Terminate() error {
	p.mu.Lock()
	p.terminates++
	exit := p.exitOnTerminate
	p.mu.Unlock()

	if exit {
		p.Exit(0)
	}
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()

	p.Exit(137)
	return nil
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Terminates reports how many graceful termination requests the process received.
func (p *Process) Terminates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminates
}

// Kills reports how many forced kills the process received.
func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// Closed tells whether Close was called.
func (p *Process) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
