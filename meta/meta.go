// Package meta persists the per-output metadata records that drive
// dependency tracking between runs.
package meta

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// OutputMeta describes how one output file was produced.
// One record is stored per output under <workdir>/.bpipe/outputs.
type OutputMeta struct {
	// OutputFile is the path of the produced file. Never empty.
	OutputFile string
	// OutputPath is the normalised forward-slash form of OutputFile.
	OutputPath string
	// Inputs lists the paths that produced this output, in order.
	// Empty for source inputs.
	Inputs []string
	// Command is the shell command that produced the output.
	Command string
	// Fingerprint is a stable hash of the command and output path.
	Fingerprint string
	// Timestamp is the output's modification time in milliseconds.
	// While the file exists on disk the filesystem is authoritative.
	Timestamp int64
	// Preserve marks an output pinned by the user; never a cleanup candidate.
	Preserve bool
	// Cleaned marks an output that was intentionally removed by the runner.
	Cleaned bool

	// Computed during graph analysis, never persisted.
	UpToDate     bool
	MaxTimestamp int64
}

// Fingerprint computes the stable hash recorded for a command/output pair.
// It depends only on the exact bytes of both arguments.
func Fingerprint(command, output string) string {
	sum := sha1.Sum([]byte(command + "_" + output))
	return hex.EncodeToString(sum[:])
}

// NormalisePath converts a path to its canonical forward-slash form.
func NormalisePath(path string) string {
	return filepath.ToSlash(path)
}
