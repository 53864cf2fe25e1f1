package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// submitAnnounce matches the LSF submission announcement, e.g.
// "Job <12345> is submitted to queue <normal>."
var submitAnnounce = regexp.MustCompile(`Job <(\d+)>`)

// Stderr fragments from bkill that mean the job is already gone.
var killIgnorableErrors = []string{
	"No matching job found",
	"Job has already finished",
}

const (
	exitFileRetries = 10
	exitFileDelay   = 500 * time.Millisecond
)

// LSFExecutor submits commands to an LSF batch scheduler. The job runs a
// wrapper script cmd.sh in the per-job directory; stdout lands in cmd.out,
// the numeric exit code in cmd.exit, and scheduler noise in cmd.err.
// Completion is observed through the filesystem rather than the scheduler.
type LSFExecutor struct {
	mu         sync.Mutex
	cfg        *config.Config
	name       string
	command    string
	dir        string
	jobID      string
	settings   PollSettings
	forwarders []*forwarder
	stopped    bool
}

func (e *LSFExecutor) Start(ctx context.Context, cfg *config.Config, id, name, command string) error {
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
	e.name = name
	e.command = command
	e.dir = absDir
	e.settings = PollSettingsFrom(cfg)
	e.mu.Unlock()

	script := fmt.Sprintf(`#!/bin/sh
(
%s
) > %q
result=$?
echo $result > %q
exit $result
`, command, filepath.Join(absDir, "cmd.out"), filepath.Join(absDir, "cmd.exit"))

	scriptPath := filepath.Join(absDir, "cmd.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to write job script %s: %w", scriptPath, err)
	}

	args := []string{}
	if cfg.Queue != "" {
		args = append(args, "-q", cfg.Queue)
	}
	jobName := cfg.JobName
	if jobName == "" {
		jobName = name
	}
	if jobName != "" {
		args = append(args, "-J", jobName)
	}

	if err := AcquireSlot(ctx, cfg.Concurrency); err != nil {
		return err
	}
	submit := exec.CommandContext(ctx, "bsub", args...)
	in, err := os.Open(scriptPath)
	if err != nil {
		ReleaseSlot()
		return fmt.Errorf("failed to open job script %s: %w", scriptPath, err)
	}
	submit.Stdin = in
	var outBuf, errBuf bytes.Buffer
	submit.Stdout = &outBuf
	submit.Stderr = &errBuf
	runErr := submit.Run()
	in.Close()
	ReleaseSlot()

	startLine := "bsub " + strings.Join(args, " ") + " < " + scriptPath
	// Scheduler stderr goes to cmd.err whether or not submission worked.
	os.WriteFile(filepath.Join(absDir, "cmd.err"), errBuf.Bytes(), 0o644)

	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return models.ErrStart(startLine, exitCode, outBuf.String(), errBuf.String())
	}

	match := submitAnnounce.FindStringSubmatch(outBuf.String())
	if match == nil {
		return models.ErrStart(startLine, 0, outBuf.String(), "could not parse job id from submit output")
	}

	// Scheduler chatter matching IgnorableOutputs is filtered out of the
	// forwarded streams.
	e.mu.Lock()
	e.jobID = match[1]
	e.forwarders = []*forwarder{
		newForwarder(filepath.Join(absDir, "cmd.out"), newLineFilter(os.Stdout, e.IgnorableOutputs())),
		newForwarder(filepath.Join(absDir, "cmd.err"), newLineFilter(os.Stderr, e.IgnorableOutputs())),
	}
	e.mu.Unlock()

	log.Debug().Str("job", match[1]).Str("name", name).Msg("lsf job submitted")
	return nil
}

// Status derives the command state from the job directory contents.
func (e *LSFExecutor) Status() models.CommandStatus {
	e.mu.Lock()
	dir := e.dir
	jobID := e.jobID
	e.mu.Unlock()

	if dir == "" || !fileExists(filepath.Join(dir, "cmd.sh")) {
		return models.StatusUnknown
	}
	if jobID == "" {
		return models.StatusQueueing
	}
	if !fileExists(filepath.Join(dir, "cmd.exit")) {
		return models.StatusRunning
	}
	return models.StatusComplete
}

// WaitFor blocks until cmd.exit appears, waking on filesystem events when
// available and falling back to backoff polling otherwise.
func (e *LSFExecutor) WaitFor(ctx context.Context) (int, error) {
	e.mu.Lock()
	dir := e.dir
	settings := e.settings
	e.mu.Unlock()
	if dir == "" {
		return -1, fmt.Errorf("lsf job was never submitted")
	}

	exitFile := filepath.Join(dir, "cmd.exit")

	var events chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if watcher.Add(dir) == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
		defer watcher.Close()
	}

	began := time.Now()
	for {
		if fileExists(exitFile) {
			return e.readExitCode(exitFile)
		}

		timer := time.NewTimer(settings.NextSleep(time.Since(began)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return -1, ctx.Err()
		case <-timer.C:
		case <-events:
			// Any churn in the job dir triggers a re-check; the loop
			// condition decides, not the event payload.
			timer.Stop()
		}
	}
}

// readExitCode parses the integer in cmd.exit. The scheduler may still be
// flushing when the file first appears, so invalid content is retried a
// few times before giving up with -1.
func (e *LSFExecutor) readExitCode(path string) (int, error) {
	for attempt := 0; attempt < exitFileRetries; attempt++ {
		data, err := os.ReadFile(path)
		if err == nil {
			if code, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil {
				return code, nil
			}
		}
		time.Sleep(exitFileDelay)
	}
	return -1, nil
}

// Stop cancels the job with bkill. Failures naming an already finished
// job are accepted; anything else is retried before failing.
func (e *LSFExecutor) Stop() error {
	e.mu.Lock()
	jobID := e.jobID
	cfg := e.cfg
	if jobID == "" || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxStatusErrors; attempt++ {
		if err := AcquireSlot(context.Background(), cfg.Concurrency); err != nil {
			return err
		}
		kill := exec.Command("bkill", jobID)
		var errBuf bytes.Buffer
		kill.Stderr = &errBuf
		runErr := kill.Run()
		ReleaseSlot()

		if runErr == nil {
			return nil
		}
		stderr := errBuf.String()
		for _, fragment := range killIgnorableErrors {
			if strings.Contains(stderr, fragment) {
				return nil
			}
		}
		lastErr = fmt.Errorf("bkill %s failed: %w: %s", jobID, runErr, strings.TrimSpace(stderr))
		time.Sleep(statusRetryDelay)
	}
	return &models.StopError{JobID: jobID, Cause: lastErr}
}

// Cleanup cancels the output forwarders started at submit time.
func (e *LSFExecutor) Cleanup() {
	e.mu.Lock()
	forwarders := e.forwarders
	e.forwarders = nil
	e.mu.Unlock()
	for _, f := range forwarders {
		f.Close()
	}
}

// CapturedOutput reads the command's stdout and the scheduler's stderr
// back from the job directory.
func (e *LSFExecutor) CapturedOutput() (string, string) {
	e.mu.Lock()
	dir := e.dir
	e.mu.Unlock()
	if dir == "" {
		return "", ""
	}
	stdout, _ := os.ReadFile(filepath.Join(dir, "cmd.out"))
	stderr, _ := os.ReadFile(filepath.Join(dir, "cmd.err"))
	return string(stdout), string(stderr)
}

// IgnorableOutputs suppresses the scheduler's own chatter on the driver
// console.
func (e *LSFExecutor) IgnorableOutputs() []string {
	return []string{`^Job <\d+> is submitted.*`}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
