package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
)

// ErrDecodingFailed is matched by every DecodeError
var ErrDecodingFailed = errors.New("decoding failed")

// DecodeError reports a failed audio extraction
type DecodeError struct {
	Input    string
	ExitCode int
	Output   string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s failed (exit status %d): %v", e.Input, e.ExitCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecodingFailed }

// Extractor converts a media container into a decodable audio file
type Extractor interface {
	Extract(ctx context.Context, inputPath, outputPath, format string) error
}

// Prober reports the duration of an audio file
type Prober interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// Slicer exports a time span of a decoded audio file
type Slicer interface {
	Slice(ctx context.Context, h *Handle, start, end time.Duration, outputPath string) error
}

// Handle references a decoded audio stream
type Handle struct {
	Path     string
	Format   string
	Duration time.Duration
}

// Decoder turns input media into a cached audio artifact next to the input
type Decoder struct {
	extractor Extractor
	prober    Prober
	log       *logger.Logger
}

// NewDecoder creates a decoder on top of the given capabilities
func NewDecoder(extractor Extractor, prober Prober, log *logger.Logger) *Decoder {
	return &Decoder{
		extractor: extractor,
		prober:    prober,
		log:       log.Named("decoder"),
	}
}

// AudioPath returns the derived artifact path for an input
func AudioPath(inputPath, format string) string {
	return inputPath + "." + format
}

// EnsureAudio converts inputPath to targetFormat unless the converted file
// already exists. An existing file is reused as-is, even if stale.
func (d *Decoder) EnsureAudio(ctx context.Context, inputPath, targetFormat string) (string, error) {
	out := AudioPath(inputPath, targetFormat)

	if info, err := os.Stat(out); err == nil && !info.IsDir() {
		d.log.Debugf("Reusing converted audio %s", out)
		return out, nil
	}

	if _, err := os.Stat(inputPath); err != nil {
		return "", &DecodeError{Input: inputPath, ExitCode: -1, Err: err}
	}

	d.log.Infof("Converting %s to %s...", filepath.Base(inputPath), targetFormat)
	start := time.Now()

	if err := d.extractor.Extract(ctx, inputPath, out, targetFormat); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return "", err
		}
		return "", &DecodeError{Input: inputPath, ExitCode: -1, Err: err}
	}

	d.log.Infof("Converted %s in %s", filepath.Base(inputPath), time.Since(start).Round(time.Millisecond))
	return out, nil
}

// Open ensures the audio artifact exists and probes its duration
func (d *Decoder) Open(ctx context.Context, inputPath, targetFormat string) (*Handle, error) {
	path, err := d.EnsureAudio(ctx, inputPath, targetFormat)
	if err != nil {
		return nil, err
	}

	duration, err := d.prober.Probe(ctx, path)
	if err != nil {
		return nil, &DecodeError{Input: inputPath, ExitCode: -1, Err: err}
	}

	d.log.Infof("Audio loaded: %s (%s)", filepath.Base(path), duration)
	return &Handle{Path: path, Format: targetFormat, Duration: duration}, nil
}

// ValidateFormat checks if the file format is supported
func ValidateFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supportedFormats := []string{
		".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma",
		".mp4", ".mkv", ".mov", ".avi", ".opus",
	}

	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
