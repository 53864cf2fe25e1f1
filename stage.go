package biopipe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/simon020286/biopipe/graph"
	"github.com/simon020286/biopipe/meta"
	"github.com/simon020286/biopipe/models"
)

// runStage executes one stage body against a fresh context, then
// validates and persists what it produced.
func (r *Runner) runStage(ctx context.Context, p *Pipeline, n *StageNode, input []string) ([]string, error) {
	outputs := p.applyName(append([]string(nil), n.Outputs...))

	c := models.NewContext(n.Name, p.Name, input)
	c.Runner = r
	c.Variables = r.Variables
	if len(outputs) > 0 {
		c.SetOutput(outputs...)
	}
	stage := &Stage{Name: n.Name, Body: n.Body, Context: c}
	p.addStage(stage)

	if len(outputs) > 0 {
		current, err := r.stageUpToDate(outputs, input)
		if err != nil {
			p.fail(err)
			return nil, err
		}
		if current {
			r.bus.EmitStageSkipped(n.Name, outputs)
			c.NextInputs = outputs
			return outputs, nil
		}
	}

	r.bus.EmitStageStarted(n.Name, p.Name)
	began := time.Now()

	if err := n.Body.Run(ctx, c); err != nil {
		err = fmt.Errorf("stage %s failed: %w", n.Name, err)
		p.fail(err)
		r.bus.EmitStageError(n.Name, p.Name, err)
		return nil, err
	}
	if err := r.finaliseStage(stage); err != nil {
		p.fail(err)
		r.bus.EmitStageError(n.Name, p.Name, err)
		return nil, err
	}

	r.bus.EmitStageCompleted(n.Name, p.Name, time.Since(began))
	return c.NextInputs, nil
}

// stageUpToDate rebuilds the dependency graph from disk and asks whether
// the declared outputs still hold given the stage inputs.
func (r *Runner) stageUpToDate(outputs, inputs []string) (bool, error) {
	entries, err := r.Store.Scan()
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	g, err := graph.Build(entries)
	if err != nil {
		return false, err
	}
	return g.CheckUpToDate(outputs, inputs), nil
}

// finaliseStage runs after a stage body returns successfully: every
// declared output must exist (or carry a metadata record explaining why
// it does not), tracked outputs are persisted, and the next stage's
// inputs are defaulted.
func (r *Runner) finaliseStage(s *Stage) error {
	c := s.Context

	for _, out := range c.Output {
		if fileOnDisk(out) {
			continue
		}
		record, err := r.Store.Read(r.Store.PropertyFile(out))
		if err != nil || !record.Cleaned {
			return &models.MissingOutputError{Stage: s.Name, Path: out}
		}
	}

	for command, outs := range c.TrackedOutputs {
		for _, out := range outs {
			ts := int64(0)
			if info, err := os.Stat(out); err == nil {
				ts = info.ModTime().UnixMilli()
			} else {
				ts = time.Now().UnixMilli()
			}

			// An output that existed before the command ran, with an
			// unchanged mtime and a metadata record already on disk, was
			// not produced by this stage.
			if pre, ok := c.PreRunTimestamp(out); ok && pre >= 0 && pre == ts && fileOnDisk(r.Store.PropertyFile(out)) {
				continue
			}

			record := &meta.OutputMeta{
				OutputFile:  out,
				OutputPath:  meta.NormalisePath(out),
				Inputs:      c.Input,
				Command:     command,
				Fingerprint: meta.Fingerprint(command, out),
				Timestamp:   ts,
			}
			if err := r.Store.Save(record); err != nil {
				return err
			}
		}
	}

	if c.NextInputs == nil {
		if len(c.Output) > 0 {
			c.NextInputs = c.Output
		} else {
			// A stage that produces nothing new is transparent.
			c.NextInputs = c.Input
		}
	}
	return nil
}

func fileOnDisk(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
