package graph

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simon020286/biopipe/meta"
)

func chtime(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestCheckUpToDateEmptyOutputs(t *testing.T) {
	g, err := Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !g.CheckUpToDate(nil, []string{"in.txt"}) {
		t.Error("no outputs means nothing to rebuild")
	}
}

func TestCheckUpToDateEmptyInputs(t *testing.T) {
	dir := t.TempDir()
	present := touch(t, dir, "present.txt")

	g, err := Build(nil)
	if err != nil {
		t.Fatal(err)
	}

	if !g.CheckUpToDate([]string{present}, nil) {
		t.Error("with no inputs an existing output is current")
	}
	if g.CheckUpToDate([]string{filepath.Join(dir, "absent.txt")}, nil) {
		t.Error("with no inputs a missing output needs building")
	}
}

func TestCheckUpToDateAfterRunAndTouch(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.txt")
	out := touch(t, dir, "out.txt")

	base := time.Now().Add(-time.Hour)
	chtime(t, in, base)
	chtime(t, out, base.Add(10*time.Second))

	g, err := Build([]*meta.OutputMeta{entry(out, base.Add(10*time.Second).UnixMilli(), in)})
	if err != nil {
		t.Fatal(err)
	}

	if !g.CheckUpToDate([]string{out}, []string{in}) {
		t.Fatal("output newer than its input should be current")
	}

	chtime(t, in, base.Add(20*time.Second))
	if g.CheckUpToDate([]string{out}, []string{in}) {
		t.Error("touching the input forward must force a rebuild")
	}
}

func TestCheckUpToDateEqualTimestampsForceRebuild(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.txt")
	out := touch(t, dir, "out.txt")

	at := time.Now().Add(-time.Hour)
	chtime(t, in, at)
	chtime(t, out, at)

	g, err := Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.CheckUpToDate([]string{out}, []string{in}) {
		t.Error("equal timestamps must count as stale")
	}
}

func TestCheckUpToDateCleanedOutputAccepted(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.txt")
	downstream := touch(t, dir, "downstream.txt")
	gone := filepath.Join(dir, "gone.txt")

	base := time.Now().Add(-time.Hour)
	chtime(t, in, base)
	chtime(t, downstream, base.Add(20*time.Second))

	cleaned := entry(gone, base.Add(10*time.Second).UnixMilli(), in)
	cleaned.Cleaned = true
	child := entry(downstream, base.Add(20*time.Second).UnixMilli(), gone)

	g, err := Build([]*meta.OutputMeta{cleaned, child})
	if err != nil {
		t.Fatal(err)
	}
	if !cleaned.UpToDate {
		t.Fatal("precondition: cleaned output should be vouched for by its child")
	}

	if !g.CheckUpToDate([]string{gone}, []string{in}) {
		t.Error("a cleaned, vouched-for output should not force a rebuild")
	}
}

func TestCheckUpToDateMissingUncleanedRecordStillStale(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "in.txt")
	gone := filepath.Join(dir, "never-built.txt")

	record := entry(gone, 100, in)
	g, err := Build([]*meta.OutputMeta{record})
	if err != nil {
		t.Fatal(err)
	}

	// Present in the graph but not cleaned: needs building.
	if g.CheckUpToDate([]string{gone}, []string{in}) {
		t.Error("missing output whose record is not cleaned must be rebuilt")
	}
}
