package executor

import (
	"bytes"
	"io"
	"regexp"
)

// newLineFilter wraps dst so that lines matching any of the given
// regexes are suppressed. This is how a backend's IgnorableOutputs are
// honoured when its output is forwarded to the driver's console. With
// no usable patterns the destination is returned unchanged.
func newLineFilter(dst io.Writer, patterns []string) io.Writer {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	if len(compiled) == 0 {
		return dst
	}
	return &filterWriter{dst: dst, patterns: compiled}
}

// filterWriter buffers partial lines and drops complete lines matching
// one of its patterns. Not safe for concurrent writers.
type filterWriter struct {
	dst      io.Writer
	patterns []*regexp.Regexp
	pending  []byte
}

func (w *filterWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := w.pending[:i+1]
		if !w.ignorable(line) {
			if _, err := w.dst.Write(line); err != nil {
				return len(p), err
			}
		}
		w.pending = w.pending[i+1:]
	}
}

// Flush writes out a trailing unterminated line. Called when the stream
// is known to be finished.
func (w *filterWriter) Flush() {
	if len(w.pending) > 0 && !w.ignorable(w.pending) {
		w.dst.Write(w.pending)
	}
	w.pending = nil
}

func (w *filterWriter) ignorable(line []byte) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	for _, re := range w.patterns {
		if re.Match(trimmed) {
			return true
		}
	}
	return false
}
