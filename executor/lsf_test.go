package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simon020286/biopipe/models"
)

func TestSubmitAnnounceParsing(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"Job <12345> is submitted to queue normal.", "12345"},
		{"Job <7> is submitted to default queue <normal>.\n", "7"},
		{"something unexpected", ""},
	}
	for _, tt := range tests {
		m := submitAnnounce.FindStringSubmatch(tt.output)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tt.want {
			t.Errorf("parse %q: expected %q, got %q", tt.output, tt.want, got)
		}
	}
}

func TestLSFStatusFromFilesystem(t *testing.T) {
	dir := t.TempDir()

	e := &LSFExecutor{}
	if got := e.Status(); got != models.StatusUnknown {
		t.Errorf("no job dir: expected UNKNOWN, got %s", got)
	}

	e.dir = dir
	if got := e.Status(); got != models.StatusUnknown {
		t.Errorf("no cmd.sh: expected UNKNOWN, got %s", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "cmd.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := e.Status(); got != models.StatusQueueing {
		t.Errorf("no job id: expected QUEUEING, got %s", got)
	}

	e.jobID = "12345"
	if got := e.Status(); got != models.StatusRunning {
		t.Errorf("no cmd.exit: expected RUNNING, got %s", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "cmd.exit"), []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := e.Status(); got != models.StatusComplete {
		t.Errorf("cmd.exit present: expected COMPLETE, got %s", got)
	}
}

func TestLSFWaitForReadsExitFile(t *testing.T) {
	dir := t.TempDir()
	e := &LSFExecutor{
		dir:      dir,
		jobID:    "12345",
		settings: PollSettings{MinSleep: 10, MaxSleep: 20, BackoffPeriod: 100},
	}

	// The exit file appears while the wait is already in progress.
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "cmd.exit"), []byte("0\n"), 0o644)
	}()

	code, err := e.WaitFor(context.Background())
	if err != nil {
		t.Fatalf("waitFor failed: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit 0, got %d", code)
	}
}

func TestLSFWaitForNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cmd.exit"), []byte("42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &LSFExecutor{
		dir:      dir,
		jobID:    "12345",
		settings: PollSettings{MinSleep: 10, MaxSleep: 20, BackoffPeriod: 100},
	}
	code, err := e.WaitFor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 42 {
		t.Errorf("expected exit 42, got %d", code)
	}
}

func TestLSFWaitForHonoursContext(t *testing.T) {
	dir := t.TempDir()
	e := &LSFExecutor{
		dir:      dir,
		jobID:    "12345",
		settings: PollSettings{MinSleep: 10, MaxSleep: 20, BackoffPeriod: 100},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.WaitFor(ctx); err == nil {
		t.Error("expected waitFor to fail when the context expires")
	}
}

func TestLSFCapturedOutputReadsJobFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cmd.out"), []byte("aligned 100 reads\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmd.err"), []byte("TERM_MEMLIMIT: job killed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &LSFExecutor{dir: dir}
	stdout, stderr := e.CapturedOutput()
	if stdout != "aligned 100 reads\n" {
		t.Errorf("stdout not read from cmd.out: %q", stdout)
	}
	if stderr != "TERM_MEMLIMIT: job killed\n" {
		t.Errorf("stderr not read from cmd.err: %q", stderr)
	}

	empty := &LSFExecutor{}
	if out, errS := empty.CapturedOutput(); out != "" || errS != "" {
		t.Error("unsubmitted job should capture nothing")
	}
}

func TestForwarderStreamsAppendedData(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cmd.out")
	dst := filepath.Join(dir, "sink")

	sink, err := os.Create(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	f := newForwarder(src, sink)
	if err := os.WriteFile(src, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * forwardInterval)

	fh, err := os.OpenFile(src, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	fh.WriteString("world\n")
	fh.Close()

	f.Close()
	f.Close() // idempotent

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\nworld\n" {
		t.Errorf("forwarder output mismatch: %q", data)
	}
}
