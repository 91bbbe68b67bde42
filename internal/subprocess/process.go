package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// maxStderrBufferSize caps the stderr tail kept for error reporting. Lines
// keep flowing to the callback after the cap is reached.
const maxStderrBufferSize = 1024 * 1024 // 1MB

// ErrStdinClosed indicates a write after stdin was closed.
var ErrStdinClosed = stderrors.New("stdin closed")

// Spec describes the command to run.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// Stderr receives each stderr line as it arrives.
	Stderr func(line string)
}

// Process is one run of a child process. It cannot be restarted; create a
// new Process instead.
type Process struct {
	log  *slog.Logger
	spec Spec

	writeMu sync.Mutex // serializes stdin writes

	mu          sync.Mutex // protects lifecycle fields
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *os.File
	stdinClosed bool
	stopping    bool

	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	done     chan struct{}
	exitErr  error
	exitCode int
}

// New creates a process for spec. Nothing is spawned until Start.
func New(log *slog.Logger, spec Spec) *Process {
	return &Process{
		log:  log.With("component", "subprocess", "command", spec.Command),
		spec: spec,
		done: make(chan struct{}),
	}
}

// Start spawns the child process.
//
// The process is not bound to ctx: ctx only bounds the start itself.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.ErrAlreadyStarted
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := Resolve(p.spec.Command, p.spec.Dir)
	if err != nil {
		p.log.Error("command not found", "error", err)

		return err
	}

	//nolint:gosec // G204: launching configured peer commands is the purpose of this package
	cmd := exec.Command(path, p.spec.Args...)
	cmd.Dir = p.spec.Dir
	cmd.Env = BuildEnvironment(p.spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Command: p.spec.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	// stdout is a plain os.Pipe so Wait does not close the read end while
	// a reader is still draining it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()

		return &errors.SpawnError{Command: p.spec.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	cmd.Stdout = stdoutW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()

		return &errors.SpawnError{Command: p.spec.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()

		p.log.Error("failed to start process", "error", err)

		return &errors.SpawnError{Command: p.spec.Command, Err: err}
	}

	_ = stdoutW.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdoutR

	var stderrWg sync.WaitGroup

	stderrWg.Go(func() {
		p.readStderr(stderr)
	})

	go p.watch(&stderrWg)

	p.log.Info("process started", "pid", cmd.Process.Pid, "path", path)

	return nil
}

// readStderr buffers stderr and forwards each line to the callback.
func (p *Process) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrBufferSize)

	for scanner.Scan() {
		line := scanner.Text()

		p.stderrMu.Lock()

		if p.stderrBuf.Len() < maxStderrBufferSize {
			if p.stderrBuf.Len() > 0 {
				p.stderrBuf.WriteString("\n")
			}

			p.stderrBuf.WriteString(line)
		}

		p.stderrMu.Unlock()

		if p.spec.Stderr != nil {
			p.spec.Stderr(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Debug("stderr scanner error", "error", err)
	}
}

// watch waits for the process to exit and publishes the outcome.
func (p *Process) watch(stderrWg *sync.WaitGroup) {
	// Stderr must be drained before Wait closes the pipe.
	stderrWg.Wait()

	err := p.cmd.Wait()

	exitCode := 0
	if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
		exitCode = exitErr.ExitCode()
	}

	p.mu.Lock()
	p.exitErr = err
	p.exitCode = exitCode
	stopping := p.stopping
	p.mu.Unlock()

	switch {
	case stopping:
		p.log.Debug("process exited during stop", "exit_code", exitCode)
	case err != nil:
		p.log.Warn("process exited", "exit_code", exitCode, "error", err, "stderr", p.Stderr())
	default:
		p.log.Info("process exited")
	}

	close(p.done)
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// Stdout returns the read end of the child's stdout. It yields io.EOF once
// the child exits and its buffered output has been consumed.
func (p *Process) Stdout() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stdout
}

// Send writes data to the child's stdin.
//
// Send is safe for concurrent use; each call is written in one Write. If ctx
// is cancelled during a blocked write, stdin is closed to unblock it and
// later calls return ErrStdinClosed.
func (p *Process) Send(ctx context.Context, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	stdin, closed := p.stdin, p.stdinClosed
	p.mu.Unlock()

	if stdin == nil {
		return errors.ErrNotStarted
	}

	if closed {
		return ErrStdinClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("context cancelled during write, closing stdin")

		_ = p.CloseStdin()

		select {
		case <-done:
		case <-time.After(time.Second):
			p.log.Warn("write goroutine did not exit after stdin close")
		}

		return ctx.Err()
	}
}

// CloseStdin signals end of input to the child.
func (p *Process) CloseStdin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closeStdinLocked()
}

func (p *Process) closeStdinLocked() error {
	if p.stdin == nil || p.stdinClosed {
		return nil
	}

	p.stdinClosed = true

	return p.stdin.Close()
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from Wait once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitErr
}

// ExitCode returns the exit code once the process has exited; -1 means the
// process was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode
}

// Stderr returns the buffered stderr output.
func (p *Process) Stderr() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	return strings.TrimSpace(p.stderrBuf.String())
}

// Stop closes stdin, waits up to grace for the child to exit and kills it
// otherwise. It returns once the process has exited and is safe to call more
// than once or on a process that never started.
func (p *Process) Stop(grace time.Duration) error {
	p.mu.Lock()

	if p.cmd == nil {
		p.mu.Unlock()

		return nil
	}

	p.stopping = true

	if err := p.closeStdinLocked(); err != nil {
		p.log.Debug("close stdin", "error", err)
	}

	p.mu.Unlock()

	if grace > 0 {
		select {
		case <-p.done:
		case <-time.After(grace):
			p.log.Warn("process did not exit within grace period, killing", "grace", grace)
		}
	}

	if !p.Exited() {
		if err := p.kill(); err != nil {
			return err
		}
	}

	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdout != nil {
		_ = p.stdout.Close()
	}

	return nil
}

// Kill terminates the child immediately without waiting for it to exit.
func (p *Process) Kill() error {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()

	if !started {
		return nil
	}

	return p.kill()
}

func (p *Process) kill() error {
	if p.Exited() {
		return nil
	}

	p.log.Debug("killing process", "pid", p.cmd.Process.Pid)

	if err := p.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process (pid %d): %w", p.cmd.Process.Pid, err)
	}

	return nil
}
