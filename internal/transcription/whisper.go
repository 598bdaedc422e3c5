package transcription

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription
type WhisperTranscriber struct {
	modelName string
	python    string
	device    string
	threads   int
	tempDir   string
	log       *logger.Logger
	mu        sync.Mutex // one model invocation at a time
}

// NewWhisperTranscriber creates a new transcriber using Python Whisper
func NewWhisperTranscriber(opts Options, log *logger.Logger) (*WhisperTranscriber, error) {
	modelName := modelNameFromPath(opts.Model)

	python := opts.Python
	if python == "" {
		python = "python"
	}
	device := strings.ToLower(opts.Device)
	if device == "" {
		device = "cuda"
	}
	if device != "cuda" && device != "cpu" {
		return nil, fmt.Errorf("unsupported device: %s", opts.Device)
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	wt := &WhisperTranscriber{
		modelName: modelName,
		python:    python,
		device:    device,
		threads:   opts.Threads,
		tempDir:   tempDir,
		log:       log.Named("whisper"),
	}
	wt.log.Infof("Initializing Python Whisper (model=%s, device=%s)", modelName, device)
	wt.log.Infof("Whisper will be called via: %s -m whisper", python)
	return wt, nil
}

// modelNameFromPath maps a model path like "ggml-small.bin" to "small".
// Plain names pass through.
func modelNameFromPath(modelPath string) string {
	if modelPath == "" {
		return "small"
	}
	base := strings.ToLower(filepath.Base(modelPath))
	if !strings.ContainsAny(base, "./") {
		return base
	}
	for _, name := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(base, name) {
			return name
		}
	}
	return "small"
}

// Transcribe processes an audio artifact and returns its segments
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, req Request) (*types.WindowResult, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	absAudioPath, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Per-call output directory so leftovers from a crash never collide
	outDir := filepath.Join(wt.tempDir, "whisper_"+uuid.New().String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, wt.python, wt.args(absAudioPath, outDir, req)...)
	// Python block-buffers a piped stdout; verbose lines must arrive as printed
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach whisper stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start whisper: %w", err)
	}

	streamed := ScanVerbose(stdout, req.OnSegment)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, stderr.String())
	}

	baseName := strings.TrimSuffix(filepath.Base(absAudioPath), filepath.Ext(absAudioPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	result, err := ParseWhisperJSON(jsonData)
	if err != nil {
		return nil, err
	}

	wt.log.Infof("Transcribed %s: %d segments (%d streamed) in %s",
		filepath.Base(req.AudioPath), len(result.Segments), streamed, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (wt *WhisperTranscriber) args(audioPath, outDir string, req Request) []string {
	task := req.Task
	if task == "" {
		task = "transcribe"
	}

	args := []string{"-m", "whisper",
		audioPath,
		"--model", wt.modelName,
		"--device", wt.device,
		"--task", task,
		"--output_dir", outDir,
		"--output_format", "json",
		"--verbose", pyBool(req.Verbose),
	}
	if lang := languageHint(req.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	// fp16 is unavailable on CPU
	if wt.device == "cpu" {
		args = append(args, "--fp16", "False")
	}
	if wt.threads > 0 {
		args = append(args, "--threads", strconv.Itoa(wt.threads))
	}
	return args
}

// whisper's CLI only accepts the Python spellings
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// ParseWhisperJSON converts whisper's JSON output to a window result
func ParseWhisperJSON(data []byte) (*types.WindowResult, error) {
	var out WhisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
			Metadata: map[string]any{
				"seek":              seg.Seek,
				"temperature":       seg.Temperature,
				"avg_logprob":       seg.AvgLogprob,
				"compression_ratio": seg.CompressionRatio,
				"no_speech_prob":    seg.NoSpeechProb,
			},
		}
	}

	return &types.WindowResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Segments: segments,
	}, nil
}

// [00:01.000 --> 00:04.500]  Hello there.
var verboseLine = regexp.MustCompile(`^\[((?:\d+:)?\d+:\d+\.\d+) --> ((?:\d+:)?\d+:\d+\.\d+)\]\s*(.*)$`)

// ScanVerbose reads whisper's verbose stdout and calls fn for every segment
// line, returning how many segments were seen. Other lines are ignored.
func ScanVerbose(r io.Reader, fn func(types.Segment)) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		m := verboseLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		start, err1 := parseTimestamp(m[1])
		end, err2 := parseTimestamp(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if fn != nil {
			fn(types.Segment{ID: n, Start: start, End: end, Text: strings.TrimSpace(m[3])})
		}
		n++
	}
	// Drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
	return n
}

// parseTimestamp parses [hh:]mm:ss.mmm into seconds
func parseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, err
		}
		total = total*60 + v
	}
	return total, nil
}
