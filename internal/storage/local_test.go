package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSaveTranscript(t *testing.T) {
	dir := t.TempDir()
	ls := NewLocalStorage(dir, NewResultStore())
	ls.now = func() time.Time { return time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC) }

	meta := &TranscriptMeta{JobID: "0123456789abcdef", RequestName: "podcast episode: 1", Language: "en"}
	paths, err := ls.SaveTranscript(sampleLog(2), meta)
	if err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	wantBase := filepath.Join(dir, "2025", "01", "23", "20250123_143022_podcast_episode__1_01234567")
	if paths.Result != wantBase+".json" {
		t.Errorf("Result = %s, want %s.json", paths.Result, wantBase)
	}

	text, err := os.ReadFile(paths.Text)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(text), "\n"); lines != 4 {
		t.Errorf("text has %d lines, want 4", lines)
	}

	data, err := os.ReadFile(paths.Meta)
	if err != nil {
		t.Fatal(err)
	}
	var got TranscriptMeta
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Windows != 2 || got.WordCount != 4 || got.Duration != 607.25 {
		t.Errorf("meta = %+v", got)
	}

	if _, err := NewResultStore().Load(paths.Result); err != nil {
		t.Errorf("result not loadable: %v", err)
	}
}

func TestSaveTranscriptEmpty(t *testing.T) {
	ls := NewLocalStorage(t.TempDir(), NewResultStore())
	if _, err := ls.SaveTranscript(nil, &TranscriptMeta{}); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("SaveTranscript(nil) error = %v, want ErrEmptyResult", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"meeting notes", "meeting_notes"},
		{"a/b\\c:d", "a_b_c_d"},
		{"  ", "untitled"},
		{strings.Repeat("x", 150), strings.Repeat("x", 100)},
		// 3-byte runes, the 100th byte falls inside the 34th one
		{strings.Repeat("日", 40), strings.Repeat("日", 33)},
		{"x" + strings.Repeat("é", 60), "x" + strings.Repeat("é", 49)},
	}
	for _, tt := range tests {
		got := SanitizeFilename(tt.in)
		if got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) || len(got) > 100 {
			t.Errorf("SanitizeFilename(%q) = %q is not a valid name", tt.in, got)
		}
	}
}
