package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// LocalExecutor runs a command directly through the local shell.
// The gate slot acquired at Start is held until the process exits, which
// is what bounds local parallelism.
type LocalExecutor struct {
	mu       sync.Mutex
	command  string
	cmd      *exec.Cmd
	dir      string
	done     chan struct{}
	exitCode int
	waitErr  error
	stopped  bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (e *LocalExecutor) Start(ctx context.Context, cfg *config.Config, id, name, command string) error {
	dir, err := jobDir(id)
	if err != nil {
		return err
	}

	if err := AcquireSlot(ctx, cfg.Concurrency); err != nil {
		return err
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = "."
	cmd.Stdout = io.MultiWriter(newLineFilter(os.Stdout, e.IgnorableOutputs()), &e.stdout)
	cmd.Stderr = io.MultiWriter(newLineFilter(os.Stderr, e.IgnorableOutputs()), &e.stderr)
	// Own process group so Stop can take down the whole command tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		ReleaseSlot()
		return models.ErrStart(command, -1, e.stdout.String(), e.stderr.String())
	}

	e.mu.Lock()
	e.command = command
	e.cmd = cmd
	e.dir = dir
	e.done = make(chan struct{})
	e.mu.Unlock()

	go func() {
		defer ReleaseSlot()
		err := cmd.Wait()
		e.mu.Lock()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				e.exitCode = exitErr.ExitCode()
			} else {
				e.exitCode = -1
				e.waitErr = err
			}
		}
		close(e.done)
		e.mu.Unlock()
	}()

	return nil
}

func (e *LocalExecutor) Status() models.CommandStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil {
		return models.StatusUnknown
	}
	select {
	case <-e.done:
		return models.StatusComplete
	default:
		return models.StatusRunning
	}
}

func (e *LocalExecutor) WaitFor(ctx context.Context) (int, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return -1, fmt.Errorf("local command was never started")
	}

	select {
	case <-done:
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.waitErr != nil {
		return -1, fmt.Errorf("failed waiting for local command: %w", e.waitErr)
	}
	return e.exitCode, nil
}

// Stop kills the command's process group. Idempotent; a command that has
// already exited is not an error.
func (e *LocalExecutor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil || e.stopped {
		return nil
	}
	e.stopped = true
	select {
	case <-e.done:
		return nil
	default:
	}
	if err := syscall.Kill(-e.cmd.Process.Pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return &models.StopError{JobID: strconv.Itoa(e.cmd.Process.Pid), Cause: err}
	}
	return nil
}

func (e *LocalExecutor) Cleanup() {}

func (e *LocalExecutor) IgnorableOutputs() []string { return nil }

// CapturedOutput returns what the command wrote so far, for error reports.
func (e *LocalExecutor) CapturedOutput() (stdout, stderr string) {
	return e.stdout.String(), e.stderr.String()
}
