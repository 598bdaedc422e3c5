package logger

import (
	"strings"
	"sync"
)

// Buffer keeps the last lines written to it in memory. It is teed into the
// logger and served at /logs.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewBuffer creates a buffer holding at most max lines
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1000
	}
	return &Buffer{
		lines: make([]string, 0, max),
		max:   max,
	}
}

func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, strings.TrimRight(string(p), "\n"))
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs := make([]string, len(b.lines))
	copy(logs, b.lines)
	return logs
}
