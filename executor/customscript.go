package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// Stderr fragments that make a failed stop acceptable: the job is already
// gone, so there is nothing left to cancel.
var stopIgnorableErrors = []string{
	"Unknown Job Id",
	"invalid state for job - COMPLETE",
}

// CustomScriptExecutor delegates command control to a user-provided shell
// script. The script is invoked as `<script> start`, `<script> status <id>`
// and `<script> stop <id>`; the environment carries the job parameters.
type CustomScriptExecutor struct {
	mu       sync.Mutex
	cfg      *config.Config
	script   string
	name     string
	command  string
	jobID    string
	settings PollSettings
	stopped  bool

	// Last non-empty output seen from the control script. The script
	// owns the command's own streams, so this is all the driver can
	// report on failure.
	scriptStdout string
	scriptStderr string
}

func (e *CustomScriptExecutor) Start(ctx context.Context, cfg *config.Config, id, name, command string) error {
	if cfg.Script == "" {
		return fmt.Errorf("custom executor requires a script path in the configuration")
	}
	dir, err := jobDir(id)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	e.mu.Lock()
	e.cfg = cfg
	e.script = cfg.Script
	e.name = name
	e.command = command
	e.settings = PollSettingsFrom(cfg)
	e.mu.Unlock()

	env := []string{
		"NAME=" + name,
		"JOBDIR=" + absDir,
		"COMMAND=" + command,
	}
	for key, value := range map[string]string{
		"ACCOUNT":  cfg.Account,
		"WALLTIME": cfg.Walltime,
		"MEMORY":   cfg.Memory,
		"PROCS":    cfg.Procs,
		"QUEUE":    cfg.Queue,
	} {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}

	stdout, stderr, exit, err := e.invoke(ctx, env, "start")
	if err != nil {
		return models.ErrStart(e.script+" start", -1, stdout, stderr)
	}
	if exit != 0 {
		return models.ErrStart(e.script+" start", exit, stdout, stderr)
	}

	jobID := strings.TrimSpace(stdout)
	if jobID == "" {
		return models.ErrStart(e.script+" start", exit, stdout, "start script printed no job id")
	}

	e.mu.Lock()
	e.jobID = jobID
	e.mu.Unlock()
	log.Debug().Str("job", jobID).Str("name", name).Msg("custom script job started")
	return nil
}

// Status is a single best-effort query; a failing script reads as UNKNOWN.
func (e *CustomScriptExecutor) Status() models.CommandStatus {
	status, _, err := e.queryStatus(context.Background())
	if err != nil {
		return models.StatusUnknown
	}
	return status
}

func (e *CustomScriptExecutor) WaitFor(ctx context.Context) (int, error) {
	e.mu.Lock()
	jobID := e.jobID
	settings := e.settings
	e.mu.Unlock()
	if jobID == "" {
		return -1, fmt.Errorf("custom script job was never started")
	}

	began := time.Now()
	statusErrors := 0
	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		status, exitCode, err := e.queryStatus(ctx)
		if err != nil {
			statusErrors++
			if statusErrors >= maxStatusErrors {
				return -1, &models.StatusError{JobID: jobID, Cause: err}
			}
			sleepCtx(ctx, statusRetryDelay)
			continue
		}
		statusErrors = 0

		if status == models.StatusComplete {
			return exitCode, nil
		}
		sleepCtx(ctx, settings.NextSleep(time.Since(began)))
	}
}

// Stop invokes `<script> stop <id>`. A non-zero exit whose stderr matches
// a known already-finished message is accepted; anything else is retried
// before failing.
func (e *CustomScriptExecutor) Stop() error {
	e.mu.Lock()
	jobID := e.jobID
	if jobID == "" || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxStatusErrors; attempt++ {
		_, stderr, exit, err := e.invoke(context.Background(), nil, "stop", jobID)
		if err == nil && exit == 0 {
			return nil
		}
		for _, fragment := range stopIgnorableErrors {
			if strings.Contains(stderr, fragment) {
				return nil
			}
		}
		if err == nil {
			err = fmt.Errorf("stop script exited %d: %s", exit, strings.TrimSpace(stderr))
		}
		lastErr = err
		time.Sleep(statusRetryDelay)
	}
	return &models.StopError{JobID: jobID, Cause: lastErr}
}

func (e *CustomScriptExecutor) Cleanup() {}

// CapturedOutput returns the last output seen from the control script.
func (e *CustomScriptExecutor) CapturedOutput() (string, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scriptStdout, e.scriptStderr
}

func (e *CustomScriptExecutor) IgnorableOutputs() []string { return nil }

// queryStatus runs one `<script> status <id>` and parses its stdout.
// The first token is the status; for COMPLETE a second token carries the
// exit code.
func (e *CustomScriptExecutor) queryStatus(ctx context.Context) (models.CommandStatus, int, error) {
	e.mu.Lock()
	jobID := e.jobID
	e.mu.Unlock()
	if jobID == "" {
		return models.StatusUnknown, -1, fmt.Errorf("no job id assigned")
	}

	stdout, stderr, exit, err := e.invoke(ctx, nil, "status", jobID)
	if err != nil {
		return models.StatusUnknown, -1, err
	}
	if exit != 0 {
		return models.StatusUnknown, -1, fmt.Errorf("status script exited %d: %s", exit, strings.TrimSpace(stderr))
	}

	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return models.StatusUnknown, -1, fmt.Errorf("status script printed nothing")
	}
	status := models.ParseCommandStatus(fields[0])
	if status != models.StatusComplete {
		return status, -1, nil
	}
	if len(fields) < 2 {
		return models.StatusUnknown, -1, fmt.Errorf("status script reported COMPLETE without an exit code")
	}
	exitCode, convErr := strconv.Atoi(fields[1])
	if convErr != nil {
		return models.StatusUnknown, -1, fmt.Errorf("status script reported invalid exit code %q", fields[1])
	}
	return status, exitCode, nil
}

// invoke runs the control script under the concurrency gate.
func (e *CustomScriptExecutor) invoke(ctx context.Context, extraEnv []string, args ...string) (stdout, stderr string, exitCode int, err error) {
	e.mu.Lock()
	script := e.script
	cfg := e.cfg
	e.mu.Unlock()

	if err := AcquireSlot(ctx, cfg.Concurrency); err != nil {
		return "", "", -1, err
	}
	defer ReleaseSlot()

	cmd := exec.CommandContext(ctx, script, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	e.mu.Lock()
	if strings.TrimSpace(stdout) != "" {
		e.scriptStdout = stdout
	}
	if strings.TrimSpace(stderr) != "" {
		e.scriptStderr = stderr
	}
	e.mu.Unlock()

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, fmt.Errorf("failed to run %s %s: %w", script, strings.Join(args, " "), runErr)
	}
	return stdout, stderr, 0, nil
}
