// Package biopipe composes named stages into an execution graph with
// sequential and fan-out operators, skips stages whose outputs are
// already current, and dispatches their commands through pluggable
// executor backends.
package biopipe

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/simon020286/biopipe/models"
)

// Re-exported so user code composing pipelines only needs this package.
type (
	Body     = models.Body
	BodyFunc = models.BodyFunc
	Context  = models.Context
)

// Stage is one stage instance inside a running pipeline: a name, the user
// body, and the context it ran against. Joiner stages are synthetic
// elements introduced by the composition operators and are invisible to
// stage merging.
type Stage struct {
	Name    string
	Body    Body
	Context *Context
	joiner  bool
}

// nextOutputs is what this stage hands to its successor: its declared
// next inputs when set, otherwise its outputs.
func (s *Stage) nextOutputs() []string {
	if s.Context == nil {
		return nil
	}
	if s.Context.NextInputs != nil {
		return s.Context.NextInputs
	}
	return s.Context.Output
}

// Pipeline is an ordered sequence of stages plus the child pipelines
// forked by fan-out operators.
type Pipeline struct {
	Name string

	mu             sync.Mutex
	stages         []*Stage
	children       []*Pipeline
	failed         bool
	failExceptions []error

	// nameApplied guards against applying the branch name to output
	// paths more than once per pipeline.
	nameApplied bool
}

// NewPipeline creates an empty pipeline with the given name. The root
// pipeline has an empty branch name; fan-out children carry their key.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{Name: name}
}

// Stages returns a copy of the pipeline's stage list.
func (p *Pipeline) Stages() []*Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stage(nil), p.stages...)
}

// Children returns the pipelines forked by fan-out operators.
func (p *Pipeline) Children() []*Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Pipeline(nil), p.children...)
}

// Failed reports whether this pipeline or any stage in it failed.
func (p *Pipeline) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *Pipeline) addStage(s *Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, s)
}

func (p *Pipeline) addChild(c *Pipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = append(p.children, c)
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = true
	p.failExceptions = append(p.failExceptions, err)
}

func (p *Pipeline) failures() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.failExceptions...)
}

// applyName rewrites output paths to carry the pipeline's branch name,
// e.g. out.bam -> out.chr1.bam. It applies at most once per pipeline.
func (p *Pipeline) applyName(outputs []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Name == "" || p.nameApplied || len(outputs) == 0 {
		return outputs
	}
	p.nameApplied = true

	renamed := make([]string, len(outputs))
	for i, out := range outputs {
		renamed[i] = branchPath(out, p.Name)
	}
	return renamed
}

// branchPath inserts the branch name before the file extension.
func branchPath(path, branch string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if strings.HasSuffix(base, "."+branch) {
		return path
	}
	return base + "." + branch + ext
}
