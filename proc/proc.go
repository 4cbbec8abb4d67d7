// Package proc launches child processes for a [cloudlock.Supervisor] using os/exec.
package proc

import (
	"context"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

// Launcher starts processes whose output is copied to Stdout and Stderr.
type Launcher struct {
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
	Env    []string  // appended to the launcher's own environment
	Dir    string

	Logger *slog.Logger
}

var _ cloudlock.Launcher = &Launcher{}

// Launch starts argv.
// The process is not tied to ctx; it runs until it exits or is stopped through the returned handle.
func (l *Launcher) Launch(_ context.Context, argv []string) (cloudlock.Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := osexec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.Wrap(err, "creating stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()

	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, errors.Wrapf(err, "starting %s", argv[0])
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Process{
		cmd:     cmd,
		done:    make(chan struct{}),
		pipes:   []*os.File{stdoutR, stderrR},
		logger:  logger.With("pid", cmd.Process.Pid),
		drained: make(chan struct{}),
	}

	var forwarders sync.WaitGroup
	forwarders.Add(2)
	go p.forward(&forwarders, "stdout", writerOr(l.Stdout, os.Stdout), stdoutR)
	go p.forward(&forwarders, "stderr", writerOr(l.Stderr, os.Stderr), stderrR)
	go func() {
		forwarders.Wait()
		close(p.drained)
	}()

	go p.wait()

	p.logger.Info("process started", "command", argv)

	return p, nil
}

// Process is a child started by [Launcher].
type Process struct {
	cmd    *osexec.Cmd
	logger *slog.Logger

	done    chan struct{} // closed once the process has exited
	drained chan struct{} // closed once both output forwarders have finished
	pipes   []*os.File

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

var _ cloudlock.Process = &Process{}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "sending SIGTERM")
	}
	return nil
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "killing process")
	}
	return nil
}

// Close waits for the process to exit and its output forwarding to finish.
// Output still arriving drainTimeout after exit (e.g. from a grandchild holding the pipes) is dropped.
// Close returns the error from waiting on the process, if any, other than a nonzero exit status.
func (p *Process) Close() error {
	<-p.done

	select {
	case <-p.drained:
	case <-time.After(drainTimeout):
		for _, f := range p.pipes {
			f.Close()
		}
		<-p.drained
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var exitErr *osexec.ExitError
	if errors.As(p.exitErr, &exitErr) {
		return nil
	}
	return p.exitErr
}

const drainTimeout = 2 * time.Second

func (p *Process) forward(wg *sync.WaitGroup, stream string, dst io.Writer, src io.Reader) {
	defer wg.Done()

	if _, err := io.Copy(dst, src); err != nil {
		p.logger.Debug("forwarding output", "stream", stream, "error", err)
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	code := 0
	var exitErr *osexec.ExitError
	switch {
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
		if code < 0 {
			code = 1
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				// Shell convention for death by signal.
				code = 128 + int(ws.Signal())
			}
		}
	case err != nil:
		code = 1
	}

	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()

	p.logger.Info("process exited", "code", code)

	close(p.done)
}

func writerOr(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
