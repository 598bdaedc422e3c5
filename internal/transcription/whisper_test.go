package transcription

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

func TestScanVerbose(t *testing.T) {
	out := `Detecting language using up to the first 30 seconds.
Detected language: English
[00:00.000 --> 00:04.500]  Hello there.
[00:04.500 --> 00:09.000]  General Kenobi.
not a segment
[01:00:01.250 --> 01:00:03.000]  Late line.
`
	var got []types.Segment
	n := ScanVerbose(strings.NewReader(out), func(s types.Segment) { got = append(got, s) })

	if n != 3 || len(got) != 3 {
		t.Fatalf("got %d segments (n=%d), want 3", len(got), n)
	}
	if got[0].Text != "Hello there." || got[0].Start != 0 || got[0].End != 4.5 {
		t.Errorf("segment 0 = %+v", got[0])
	}
	if got[1].ID != 1 || got[1].Text != "General Kenobi." {
		t.Errorf("segment 1 = %+v", got[1])
	}
	if got[2].Start != 3601.25 || got[2].End != 3603 {
		t.Errorf("segment 2 = %+v", got[2])
	}
}

func TestScanVerbose_NilCallback(t *testing.T) {
	n := ScanVerbose(strings.NewReader("[00:00.000 --> 00:01.000] hi\n"), nil)
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{
		"text": " Hello there. General Kenobi.",
		"language": "en",
		"segments": [
			{"id": 0, "seek": 0, "start": 0.0, "end": 4.5, "text": " Hello there.", "avg_logprob": -0.2, "no_speech_prob": 0.01},
			{"id": 1, "seek": 0, "start": 4.5, "end": 9.0, "text": " General Kenobi."}
		]
	}`)

	res, err := ParseWhisperJSON(data)
	if err != nil {
		t.Fatalf("ParseWhisperJSON() error = %v", err)
	}
	if res.Language != "en" || res.Text != "Hello there. General Kenobi." {
		t.Errorf("result = %+v", res)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments", len(res.Segments))
	}
	if res.Segments[0].Text != "Hello there." || res.Segments[0].Metadata["avg_logprob"] != -0.2 {
		t.Errorf("segment 0 = %+v", res.Segments[0])
	}
}

func TestParseWhisperJSON_Invalid(t *testing.T) {
	if _, err := ParseWhisperJSON([]byte("{")); err == nil {
		t.Error("expected error")
	}
}

func TestModelNameFromPath(t *testing.T) {
	tests := map[string]string{
		"":                      "small",
		"medium":                "medium",
		"large-v3":              "large-v3",
		"models/ggml-tiny.bin":  "tiny",
		"ggml-base.en.bin":      "base",
		"/opt/models/weird.bin": "small",
	}
	for in, want := range tests {
		if got := modelNameFromPath(in); got != want {
			t.Errorf("modelNameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWhisperArgs(t *testing.T) {
	wt, err := NewWhisperTranscriber(Options{Model: "small", Device: "cpu", Threads: 4}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	args := wt.args("/a/w.mp3", "/tmp/out", Request{Language: "de", Verbose: true})
	for _, want := range [][]string{
		{"--model", "small"},
		{"--device", "cpu"},
		{"--task", "transcribe"},
		{"--language", "de"},
		{"--verbose", "True"},
		{"--fp16", "False"},
		{"--threads", "4"},
	} {
		i := slices.Index(args, want[0])
		if i < 0 || i+1 >= len(args) || args[i+1] != want[1] {
			t.Errorf("args %v missing %v", args, want)
		}
	}

	args = wt.args("/a/w.mp3", "/tmp/out", Request{Language: "auto"})
	if slices.Contains(args, "--language") {
		t.Errorf("auto language should omit --language: %v", args)
	}
}

func TestNewWhisperTranscriber_BadDevice(t *testing.T) {
	if _, err := NewWhisperTranscriber(Options{Device: "tpu"}, logger.Nop()); err == nil {
		t.Error("expected error for unsupported device")
	}
}

func TestWhisperTranscriber_FakePython(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	// A stand-in for "python -m whisper" that prints verbose lines and
	// writes the JSON file whisper would write.
	dir := t.TempDir()
	script := filepath.Join(dir, "fakepython")
	body := `#!/bin/sh
audio="$3"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output_dir" ]; then out="$2"; fi
  shift
done
name=$(basename "$audio")
name="${name%.*}"
echo "[00:00.000 --> 00:02.000]  one"
echo "[00:02.000 --> 00:04.000]  two"
printf '{"text":"one two","language":"en","segments":[{"id":0,"start":0,"end":2,"text":" one"},{"id":1,"start":2,"end":4,"text":" two"}]}' > "$out/$name.json"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	audio := filepath.Join(dir, "window.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}

	wt, err := NewWhisperTranscriber(Options{Python: script, Device: "cpu", TempDir: dir}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var streamed []string
	res, err := wt.Transcribe(context.Background(), Request{
		AudioPath: audio,
		Language:  "en",
		Verbose:   true,
		OnSegment: func(s types.Segment) { streamed = append(streamed, s.Text) },
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if !slices.Equal(streamed, []string{"one", "two"}) {
		t.Errorf("streamed = %v", streamed)
	}
	if len(res.Segments) != 2 || res.Segments[1].Text != "two" || res.Language != "en" {
		t.Errorf("result = %+v", res)
	}

	// per-call output directory is removed
	entries, _ := filepath.Glob(filepath.Join(dir, "whisper_*"))
	if len(entries) != 0 {
		t.Errorf("whisper output dirs left: %v", entries)
	}
}

// whisperStub mimics "python -m whisper": one verbose line, a pause, a
// second line, then the JSON output file
const whisperStub = `import json, os, sys, time

args = sys.argv[1:]
audio = args[0]
out = args[args.index("--output_dir") + 1]
print("[00:00.000 --> 00:02.000]  one")
time.sleep(2)
print("[00:02.000 --> 00:04.000]  two")
name = os.path.splitext(os.path.basename(audio))[0]
with open(os.path.join(out, name + ".json"), "w") as f:
    json.dump({"text": "one two", "language": "en", "segments": [
        {"id": 0, "start": 0, "end": 2, "text": " one"},
        {"id": 1, "start": 2, "end": 4, "text": " two"}]}, f)
`

func TestWhisperTranscriber_StreamsBeforeExit(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}

	dir := t.TempDir()
	pkg := filepath.Join(dir, "stub", "whisper")
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkg, "__init__.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkg, "__main__.py"), []byte(whisperStub), 0o644); err != nil {
		t.Fatal(err)
	}
	audio := filepath.Join(dir, "window.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PYTHONPATH", filepath.Join(dir, "stub"))
	t.Setenv("PYTHONUNBUFFERED", "")
	os.Unsetenv("PYTHONUNBUFFERED")

	wt, err := NewWhisperTranscriber(Options{Python: python, Device: "cpu", TempDir: dir}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	var first time.Duration
	res, err := wt.Transcribe(context.Background(), Request{
		AudioPath: audio,
		Verbose:   true,
		OnSegment: func(s types.Segment) {
			if first == 0 {
				first = time.Since(start)
			}
		},
	})
	total := time.Since(start)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	if first == 0 || total-first < time.Second {
		t.Errorf("first segment after %s, run returned after %s: segments held until exit", first, total)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Options{Provider: "whisper"}, logger.Nop()); err != nil {
		t.Errorf("whisper: %v", err)
	}
	if _, err := New(Options{Provider: "openai"}, logger.Nop()); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := New(Options{Provider: "openai", APIKey: "sk"}, logger.Nop()); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := New(Options{Provider: "nope"}, logger.Nop()); err == nil {
		t.Error("unknown provider should fail")
	}
}
