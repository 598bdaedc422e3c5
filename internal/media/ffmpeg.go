package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FFmpeg shells out to ffmpeg/ffprobe. It implements Extractor, Slicer and Prober.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg returns an FFmpeg using the binaries found on PATH
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Extract converts any media container to a stereo audio file of the given format
func (f *FFmpeg) Extract(ctx context.Context, inputPath, outputPath, format string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-i", inputPath,
		"-ac", "2", // Stereo, like the source conversion
		"-f", format,
		outputPath,
		"-y",
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &DecodeError{
			Input:    inputPath,
			ExitCode: exitCode(err),
			Output:   tail(string(output), 2048),
			Err:      err,
		}
	}
	return nil
}

// Slice exports [start, end) of the audio to outputPath. An end past the
// available audio is clamped by ffmpeg rather than treated as an error.
func (f *FFmpeg) Slice(ctx context.Context, h *Handle, start, end time.Duration, outputPath string) error {
	format := strings.TrimPrefix(filepath.Ext(outputPath), ".")
	if format == "" {
		format = "mp3"
	}

	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-y",
		"-ss", formatTime(start),
		"-i", h.Path,
		"-t", formatTime(end-start),
		"-f", format,
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg slice %s-%s failed: %w\nOutput: %s",
			formatTime(start), formatTime(end), err, tail(string(output), 2048))
	}
	return nil
}

// Probe returns the duration of an audio file using ffprobe
func (f *FFmpeg) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	return ParseDuration(string(output))
}

// ParseDuration parses the seconds value printed by ffprobe
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), nil
}

// formatTime formats a duration for ffmpeg -ss/-t arguments
func formatTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
