package beat

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

const prefixMaxLen = 16

// LogPrefixer is io.Writer adding "{entry} " to each output line
type LogPrefixer struct {
	writer io.Writer
	prefix []byte
}

// NewLogPrefixer makes prefixer for entry name, long names truncated
func NewLogPrefixer(writer io.Writer, name string) *LogPrefixer {
	if len(name) > prefixMaxLen {
		name = name[:prefixMaxLen] + "..."
	}
	return &LogPrefixer{writer: writer, prefix: fmt.Appendf(nil, "{%s} ", name)}
}

// Write prefixes every line in data, a partial last line prefixed as well.
// Returned count excludes prefixes.
func (p *LogPrefixer) Write(data []byte) (int, error) {
	written := 0
	for line := range bytes.SplitAfterSeq(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if _, err := p.writer.Write(p.prefix); err != nil {
			return written, err
		}
		n, err := p.writer.Write(line)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// TailWriter keeps the last lines written to it, safe for concurrent writes
type TailWriter struct {
	max   int
	lines []string
	mu    sync.Mutex
}

// NewTailWriter makes writer keeping up to max lines, 0 keeps nothing
func NewTailWriter(maximum int) *TailWriter {
	return &TailWriter{max: maximum}
}

func (w *TailWriter) Write(p []byte) (int, error) {
	if w.max <= 0 {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if len(w.lines) >= w.max {
			w.lines = w.lines[1:]
		}
		w.lines = append(w.lines, string(line))
	}
	return len(p), nil
}

// Lines returns a copy of kept lines
func (w *TailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.lines) == 0 {
		return nil
	}
	return append([]string(nil), w.lines...)
}

// String joins kept lines
func (w *TailWriter) String() string {
	return strings.Join(w.Lines(), "\n")
}
