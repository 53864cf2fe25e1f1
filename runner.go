package biopipe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/executor"
	"github.com/simon020286/biopipe/meta"
	"github.com/simon020286/biopipe/models"
)

// Runner interprets a composed pipeline expression against a working
// directory. One runner owns the working directory for the life of a run.
type Runner struct {
	WorkDir string
	Config  *config.Config
	Store   *meta.Store

	// Variables are made available to every stage body.
	Variables map[string]any

	bus      *eventBus
	lastRoot *Pipeline
}

// LastRun returns the root pipeline built by the most recent Run, for
// inspection after the fact.
func (r *Runner) LastRun() *Pipeline { return r.lastRoot }

// NewRunner creates a runner for the given working directory. A nil
// configuration gets the defaults.
func NewRunner(workDir string, cfg *config.Config) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Runner{
		WorkDir: workDir,
		Config:  cfg,
		Store:   meta.NewStore(workDir),
		bus:     newEventBus(),
	}
}

// AddListener adds a listener to receive events from the run.
func (r *Runner) AddListener(listener models.EventListener) {
	r.bus.addListener(listener)
}

// Run executes the composed expression with the given initial inputs and
// returns the final outputs.
func (r *Runner) Run(ctx context.Context, name string, root Node, inputs []string) ([]string, error) {
	p := NewPipeline("")
	r.lastRoot = p

	r.bus.EmitPipelineStarted(name)
	began := time.Now()

	outputs, err := r.runNode(ctx, p, root, inputs)
	if err != nil {
		r.bus.EmitPipelineError(name, err)
		r.bus.Wait()
		return nil, err
	}

	r.bus.EmitPipelineCompleted(name, time.Since(began))
	r.bus.Wait()
	return outputs, nil
}

func (r *Runner) runNode(ctx context.Context, p *Pipeline, node Node, input []string) ([]string, error) {
	switch n := node.(type) {
	case *StageNode:
		return r.runStage(ctx, p, n, input)
	case *SeqNode:
		current := input
		for _, element := range n.Nodes {
			next, err := r.runNode(ctx, p, element, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	case *FanoutNode:
		return r.runFanout(ctx, p, n, input)
	default:
		return nil, fmt.Errorf("unknown pipeline node type %T", node)
	}
}

// runFanout forks one child pipeline per branch key and segment, runs
// them on the worker pool, aggregates failures after every branch has
// finished, and, when no branch failed, merges the children back into the
// parent.
func (r *Runner) runFanout(ctx context.Context, p *Pipeline, n *FanoutNode, input []string) ([]string, error) {
	var branches map[string][]string
	if n.Pattern != "" {
		var err error
		branches, err = splitInputs(n.Pattern, input, r.priorInputs(p))
		if err != nil {
			p.fail(err)
			return nil, err
		}
	} else {
		if len(n.Keys) == 0 {
			return nil, fmt.Errorf("fan-out requires branch keys or a filename pattern")
		}
		branches = make(map[string][]string, len(n.Keys))
		for _, k := range n.Keys {
			branches[k] = input
		}
	}

	keys := sortedBranchKeys(branches)

	var children []*Pipeline
	pool := new(errgroup.Group)
	pool.SetLimit(r.Config.Workers)

	for _, key := range keys {
		for _, segment := range n.Nodes {
			key := key
			segment := segment
			branchInput := branches[key]

			child := NewPipeline(key)
			// Synthetic prior stage: downstream input resolution and
			// pattern back-search must find the branch's inputs.
			child.addStage(&Stage{
				Name:   "_prior",
				joiner: true,
				Context: &Context{
					StageName:  "_prior",
					Input:      branchInput,
					Output:     branchInput,
					NextInputs: branchInput,
				},
			})
			p.addChild(child)
			children = append(children, child)

			pool.Go(func() error {
				r.bus.EmitBranchStarted(key)
				if _, err := r.runNode(ctx, child, segment, branchInput); err != nil {
					if len(child.failures()) == 0 {
						child.fail(err)
					}
					r.bus.EmitBranchFailed(key, err)
					return nil
				}
				r.bus.EmitBranchCompleted(key)
				return nil
			})
		}
	}
	pool.Wait()

	var causes []error
	for _, child := range children {
		causes = append(causes, child.failures()...)
	}
	if len(causes) > 0 {
		err := &models.PipelineError{Causes: causes}
		p.fail(err)
		return nil, err
	}

	return mergeChildren(p, children), nil
}

// priorInputs collects the input lists of the stages already run in this
// pipeline, oldest first.
func (r *Runner) priorInputs(p *Pipeline) [][]string {
	var priors [][]string
	for _, s := range p.Stages() {
		if s.Context != nil && len(s.Context.Input) > 0 {
			priors = append(priors, s.Context.Input)
		}
	}
	return priors
}

// RunCommand dispatches one shell command through the configured backend.
// It implements models.CommandRunner for the contexts this runner creates.
func (r *Runner) RunCommand(ctx context.Context, c *models.Context, command string) error {
	exe, err := executor.Create(r.Config.Executor)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	r.bus.EmitCommandSubmitted(c.StageName, command)

	if err := exe.Start(ctx, r.Config, id, c.StageName, command); err != nil {
		return err
	}
	defer exe.Cleanup()

	exitCode, err := exe.WaitFor(ctx)
	if err != nil {
		// A submitted job must never be leaked: stop it before surfacing
		// the wait failure.
		exe.Stop()
		return err
	}
	r.bus.EmitCommandCompleted(c.StageName, command, exitCode)

	if exitCode != 0 {
		stdout, stderr := exe.CapturedOutput()
		return &models.CommandError{
			Stage:    c.StageName,
			JobID:    id,
			Command:  command,
			ExitCode: exitCode,
			Stdout:   stdout,
			Stderr:   stderr,
		}
	}
	return nil
}
