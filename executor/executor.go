// Package executor dispatches shell commands through pluggable backends:
// the local shell, a user-provided control script, or an LSF batch
// scheduler. All backends share one contract and run under a process-wide
// concurrency gate.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// Executor runs a single shell command on an execution target.
// One instance handles one command from Start to Cleanup.
type Executor interface {
	// Start submits the command and blocks until the backend has
	// assigned it an id. A failed submission returns a StartError
	// carrying the start command line and captured output.
	Start(ctx context.Context, cfg *config.Config, id, name, command string) error

	// Status is a cheap query of the command's lifecycle state.
	Status() models.CommandStatus

	// WaitFor blocks until the command completes and returns its exit code.
	WaitFor(ctx context.Context) (int, error)

	// Stop requests cancellation. Idempotent; stopping an already
	// finished command is not an error.
	Stop() error

	// Cleanup releases resources attached during Start, such as output
	// forwarders. Safe to call more than once.
	Cleanup()

	// CapturedOutput returns whatever stdout and stderr the backend has
	// captured for the command so far. Failure reports carry this.
	CapturedOutput() (stdout, stderr string)

	// IgnorableOutputs returns regexes of stdout/stderr lines that are
	// suppressed when backend output is forwarded to the driver's
	// console, or nil.
	IgnorableOutputs() []string
}

// Factory creates a fresh executor instance for one command.
type Factory func() Executor

var (
	registry = make(map[string]Factory)
	regMu    sync.RWMutex
)

// Register registers a factory for a backend name.
func Register(name string, factory Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = factory
}

// Create instantiates the backend registered under name.
func Create(name string) (Executor, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	factory, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("unknown executor backend: %s", name)
	}
	return factory(), nil
}

// List returns all registered backend names.
func List() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// jobDir creates and returns the per-job working directory
// .bpipe/commandtmp/<id>.
func jobDir(id string) (string, error) {
	dir := filepath.Join(".bpipe", "commandtmp", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}
	return dir, nil
}

func init() {
	Register("local", func() Executor { return &LocalExecutor{} })
	Register("custom", func() Executor { return &CustomScriptExecutor{} })
	Register("lsf", func() Executor { return &LSFExecutor{} })
}
