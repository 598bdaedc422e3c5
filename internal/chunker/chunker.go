package chunker

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/media"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// DefaultWindow is the window length used when none is configured
const DefaultWindow = 10 * time.Minute

// Windows yields consecutive non-overlapping windows covering [0, total).
// Every window is size long except possibly the last one.
func Windows(total, size time.Duration) iter.Seq[types.Window] {
	return func(yield func(types.Window) bool) {
		if size <= 0 {
			return
		}
		for i, offset := 0, time.Duration(0); offset < total; i, offset = i+1, offset+size {
			end := min(offset+size, total)
			if !yield(types.Window{Index: i, Start: offset, End: end}) {
				return
			}
		}
	}
}

// Count returns the number of windows Windows(total, size) yields
func Count(total, size time.Duration) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + size - 1) / size)
}

// Chunker materializes windows of a decoded audio file to temp files
type Chunker struct {
	slicer  media.Slicer
	tempDir string
	size    time.Duration
	format  string
	log     *logger.Logger
}

// New creates a chunker. A zero size means DefaultWindow.
func New(slicer media.Slicer, tempDir string, size time.Duration, format string, log *logger.Logger) *Chunker {
	if size <= 0 {
		size = DefaultWindow
	}
	if format == "" {
		format = "mp3"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Chunker{
		slicer:  slicer,
		tempDir: tempDir,
		size:    size,
		format:  format,
		log:     log.Named("chunker"),
	}
}

// Size returns the window length
func (c *Chunker) Size() time.Duration {
	return c.size
}

// Windows returns the window sequence for a handle
func (c *Chunker) Windows(h *media.Handle) iter.Seq[types.Window] {
	return Windows(h.Duration, c.size)
}

// Count returns how many windows the handle splits into
func (c *Chunker) Count(h *media.Handle) int {
	return Count(h.Duration, c.size)
}

// Materialize slices w into a uniquely named temp file, passes its path to
// fn and removes the file once fn returns, whatever the outcome.
func (c *Chunker) Materialize(ctx context.Context, h *media.Handle, w types.Window, fn func(path string) error) error {
	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	path := filepath.Join(c.tempDir, fmt.Sprintf("window_%03d_%s.%s", w.Index, uuid.New().String(), c.format))
	defer c.release(path)

	// The nominal end may exceed the audio; the slicer clamps it
	if err := c.slicer.Slice(ctx, h, w.Start, w.Start+c.size, path); err != nil {
		return fmt.Errorf("failed to slice %s: %w", w, err)
	}

	c.log.Debugf("Materialized %s to %s", w, filepath.Base(path))
	return fn(path)
}

func (c *Chunker) release(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warnf("Failed to remove window artifact %s: %v", path, err)
	}
}
