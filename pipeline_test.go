package biopipe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/meta"
	"github.com/simon020286/biopipe/models"
)

// writeFileBody writes a branch-qualified output file and declares it.
func writeFileBody(name string) Body {
	return BodyFunc(func(ctx context.Context, c *Context) error {
		out := name + ".txt"
		if c.Branch != "" {
			out = c.Branch + "." + out
		}
		if err := os.WriteFile(out, []byte(name), 0o644); err != nil {
			return err
		}
		c.SetOutput(out)
		return nil
	})
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()
	chdirT(t, dir)
	return NewRunner(dir, config.Default())
}

func TestRunnerSingleStageWritesMetadata(t *testing.T) {
	r := newTestRunner(t)
	if err := os.WriteFile("in.txt", []byte("reads"), 0o644); err != nil {
		t.Fatal(err)
	}

	command := "cat in.txt > out.txt"
	stage := NewStage("copy", BodyFunc(func(ctx context.Context, c *Context) error {
		if err := os.WriteFile("out.txt", []byte("reads"), 0o644); err != nil {
			return err
		}
		c.SetOutput("out.txt")
		c.Track(command, "out.txt")
		return nil
	}))

	outputs, err := r.Run(context.Background(), "test", stage, []string{"in.txt"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(outputs) != 1 || outputs[0] != "out.txt" {
		t.Errorf("unexpected final outputs: %v", outputs)
	}

	records, err := r.Store.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 metadata record, got %d", len(records))
	}
	rec := records[0]
	if rec.OutputFile != "out.txt" || rec.Command != command {
		t.Errorf("record mismatch: %+v", rec)
	}
	if rec.Fingerprint != meta.Fingerprint(command, "out.txt") {
		t.Errorf("fingerprint mismatch: %s", rec.Fingerprint)
	}
	if len(rec.Inputs) != 1 || rec.Inputs[0] != "in.txt" {
		t.Errorf("inputs not recorded: %v", rec.Inputs)
	}
}

func TestRunnerMissingDeclaredOutputFails(t *testing.T) {
	r := newTestRunner(t)

	stage := NewStage("broken", BodyFunc(func(ctx context.Context, c *Context) error {
		c.SetOutput("never-created.txt")
		return nil
	}))

	_, err := r.Run(context.Background(), "test", stage, nil)
	if err == nil {
		t.Fatal("expected missing output error")
	}
	var missingErr *models.MissingOutputError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected MissingOutputError, got %T: %v", err, err)
	}
	if missingErr.Path != "never-created.txt" {
		t.Errorf("error should name the offending path: %s", missingErr.Path)
	}
}

func TestRunnerTransparentStageForwardsInputs(t *testing.T) {
	r := newTestRunner(t)

	stage := NewStage("noop", BodyFunc(func(ctx context.Context, c *Context) error {
		return nil
	}))

	outputs, err := r.Run(context.Background(), "test", stage, []string{"a.txt", "b.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 2 || outputs[0] != "a.txt" || outputs[1] != "b.txt" {
		t.Errorf("stage producing nothing should be transparent: %v", outputs)
	}
}

func TestRunnerSequentialFeedsNextInputs(t *testing.T) {
	r := newTestRunner(t)

	var secondInput []string
	expr := Seq(
		writeStage("first"),
		NewStage("second", BodyFunc(func(ctx context.Context, c *Context) error {
			secondInput = append([]string(nil), c.Input...)
			return nil
		})),
	)

	if _, err := r.Run(context.Background(), "test", expr, []string{"raw.txt"}); err != nil {
		t.Fatal(err)
	}
	if len(secondInput) != 1 || secondInput[0] != "first.txt" {
		t.Errorf("second stage should see first stage's output, got %v", secondInput)
	}
}

func writeStage(name string) *StageNode {
	return NewStage(name, writeFileBody(name))
}

func TestRunnerFanoutMergeIsDeterministic(t *testing.T) {
	run := func(keys []string) []string {
		r := newTestRunner(t)
		expr := Parallel(keys,
			Seq(writeStage("s1"), writeStage("s2")),
			writeStage("s3"),
		)
		outputs, err := r.Run(context.Background(), "test", expr, []string{"raw.txt"})
		if err != nil {
			t.Fatalf("fan-out run failed: %v", err)
		}
		return outputs
	}

	want := []string{"chr1.s2.txt", "chr1.s3.txt", "chr2.s2.txt", "chr2.s3.txt"}

	for _, keys := range [][]string{{"chr1", "chr2"}, {"chr2", "chr1"}} {
		got := run(keys)
		if len(got) != len(want) {
			t.Fatalf("keys %v: expected %d outputs, got %v", keys, len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("keys %v: position %d: expected %s, got %s", keys, i, want[i], got[i])
			}
		}
	}
}

func TestRunnerFanoutMergesLikeStagesByName(t *testing.T) {
	r := newTestRunner(t)

	expr := Parallel([]string{"a", "b"}, writeStage("align"))
	if _, err := r.Run(context.Background(), "test", expr, []string{"raw.txt"}); err != nil {
		t.Fatal(err)
	}

	// One merged "align" stage should carry both branches' outputs.
	var merged *Stage
	for _, s := range r.LastRun().Stages() {
		if s.Name == "align" {
			merged = s
		}
	}
	if merged == nil {
		t.Fatal("no merged align stage on the parent pipeline")
	}
	raw := merged.Context.RawOutput
	if len(raw) != 2 || raw[0] != "a.align.txt" || raw[1] != "b.align.txt" {
		t.Errorf("merged stage outputs mismatch: %v", raw)
	}
}

func TestRunnerFanoutAggregatesBranchFailures(t *testing.T) {
	r := newTestRunner(t)

	boom := NewStage("explode", BodyFunc(func(ctx context.Context, c *Context) error {
		return errors.New("no reference genome")
	}))

	var survivors atomic.Int32
	ok := NewStage("survive", BodyFunc(func(ctx context.Context, c *Context) error {
		survivors.Add(1)
		return nil
	}))

	_, err := r.Run(context.Background(), "test", Parallel([]string{"chr1", "chr2"}, boom, ok), []string{"raw.txt"})
	if err == nil {
		t.Fatal("expected aggregated branch failure")
	}
	var pipeErr *models.PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("expected PipelineError, got %T: %v", err, err)
	}

	// Siblings keep running; the parent aggregates only afterwards.
	if survivors.Load() != 2 {
		t.Errorf("expected both surviving branches to run, got %d", survivors.Load())
	}
}

func TestRunnerSkipsUpToDateStage(t *testing.T) {
	r := newTestRunner(t)

	old := time.Now().Add(-time.Hour)
	if err := os.WriteFile("in.txt", []byte("reads"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes("in.txt", old, old); err != nil {
		t.Fatal(err)
	}

	var runs atomic.Int32
	stage := NewStage("copy", BodyFunc(func(ctx context.Context, c *Context) error {
		runs.Add(1)
		if err := os.WriteFile("out.txt", []byte("reads"), 0o644); err != nil {
			return err
		}
		c.Track("cat in.txt > out.txt", "out.txt")
		return nil
	}), "out.txt")

	if _, err := r.Run(context.Background(), "test", stage, []string{"in.txt"}); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Fatalf("first run should execute the stage, ran %d times", runs.Load())
	}

	// A fresh runner over the same directory sees current outputs.
	again := NewRunner(r.WorkDir, config.Default())
	if _, err := again.Run(context.Background(), "test", stage, []string{"in.txt"}); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Errorf("second run should skip the up-to-date stage, ran %d times", runs.Load())
	}
}

func TestBranchPathQualification(t *testing.T) {
	p := NewPipeline("chr1")

	renamed := p.applyName([]string{filepath.Join("results", "out.bam")})
	if renamed[0] != filepath.Join("results", "out.chr1.bam") {
		t.Errorf("branch name not applied: %s", renamed[0])
	}

	// The guard prevents a second application.
	second := p.applyName([]string{"other.bam"})
	if second[0] != "other.bam" {
		t.Errorf("branch name applied twice: %s", second[0])
	}
}
