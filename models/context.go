package models

import (
	"context"
	"os"
	"sync"
)

// CommandRunner dispatches a shell command through an executor backend.
// The pipeline runner injects one into every Context before the stage
// body runs.
type CommandRunner interface {
	RunCommand(ctx context.Context, c *Context, command string) error
}

// Context carries one stage's inputs and outputs while its body runs.
// Bodies read Input, assign Output or NextInputs, and issue commands via
// Exec; everything else is bookkeeping owned by the runner.
type Context struct {
	StageName string
	Branch    string

	Input     []string
	Output    []string
	RawOutput []string

	// NextInputs is what the stage declares as inputs to the next stage.
	// When left nil the runner defaults it to the stage's outputs, or to
	// its original input when the stage declared no outputs.
	NextInputs []string

	// TrackedOutputs maps each executed command to the outputs it produced.
	TrackedOutputs map[string][]string

	Variables map[string]any

	Runner CommandRunner

	// preRun holds the mtime (ms) each tracked output had before its
	// command ran, or -1 when it did not exist yet. Used afterwards to
	// tell outputs the command actually rewrote from ones it left alone.
	preRun map[string]int64

	mu sync.Mutex
}

// NewContext creates a context for a stage invocation.
func NewContext(stageName, branch string, input []string) *Context {
	return &Context{
		StageName:      stageName,
		Branch:         branch,
		Input:          append([]string(nil), input...),
		TrackedOutputs: make(map[string][]string),
	}
}

// Exec runs a shell command through the configured runner and records the
// outputs it is expected to produce.
func (c *Context) Exec(ctx context.Context, command string, outputs ...string) error {
	c.snapshotBefore(outputs)
	c.Track(command, outputs...)
	if c.Runner == nil {
		return nil
	}
	return c.Runner.RunCommand(ctx, c, command)
}

// Track records a command -> outputs pair without executing anything.
func (c *Context) Track(command string, outputs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TrackedOutputs[command] = append(c.TrackedOutputs[command], outputs...)
}

// snapshotBefore records the current mtimes of outputs about to be
// produced. Only the first observation per path counts.
func (c *Context) snapshotBefore(outputs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preRun == nil {
		c.preRun = make(map[string]int64)
	}
	for _, out := range outputs {
		if _, seen := c.preRun[out]; seen {
			continue
		}
		if info, err := os.Stat(out); err == nil {
			c.preRun[out] = info.ModTime().UnixMilli()
		} else {
			c.preRun[out] = -1
		}
	}
}

// PreRunTimestamp returns the mtime an output had before its command ran.
// The second result is false when the output was never snapshotted, and
// the first is -1 when the file did not exist.
func (c *Context) PreRunTimestamp(path string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.preRun[path]
	return ts, ok
}

// SetOutput declares the stage outputs. The raw (unresolved) form is kept
// alongside so fan-out merging can rebuild the flat list later.
func (c *Context) SetOutput(outputs ...string) {
	c.Output = append([]string(nil), outputs...)
	c.RawOutput = append([]string(nil), outputs...)
}

// Body is the executable logic of a stage. Implementations receive the
// stage context, may assign outputs and issue commands, and return an
// error to fail the stage.
type Body interface {
	Run(ctx context.Context, c *Context) error
}

// BodyFunc adapts a plain function to the Body interface.
type BodyFunc func(ctx context.Context, c *Context) error

func (f BodyFunc) Run(ctx context.Context, c *Context) error {
	return f(ctx, c)
}
