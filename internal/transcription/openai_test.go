package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
)

func newTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "window.mp3")
	if err := os.WriteFile(path, []byte("ID3 fake"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAIEngine_VerboseJSON(t *testing.T) {
	var gotPath, gotFormat, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"task": "transcribe",
			"language": "english",
			"duration": 9.0,
			"text": "Hello there. General Kenobi.",
			"segments": [
				{"id": 0, "seek": 0, "start": 0.0, "end": 4.5, "text": " Hello there.", "avg_logprob": -0.3},
				{"id": 1, "seek": 0, "start": 4.5, "end": 9.0, "text": " General Kenobi."}
			]
		}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEngine(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Transcribe(context.Background(), Request{AudioPath: newTestAudio(t), Language: "en", Verbose: true})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q", gotFormat)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q", gotLanguage)
	}
	if len(res.Segments) != 2 || res.Segments[1].Text != "General Kenobi." || res.Segments[1].Start != 4.5 {
		t.Errorf("segments = %+v", res.Segments)
	}
	if res.Language != "english" {
		t.Errorf("language = %q", res.Language)
	}
}

func TestOpenAIEngine_TextOnlyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "just text", "duration": 3.0}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEngine(Options{BaseURL: srv.URL}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Transcribe(context.Background(), Request{AudioPath: newTestAudio(t)})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "just text" || res.Segments[0].End != 3 {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestOpenAIEngine_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "unsupported language", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEngine(Options{APIKey: "sk", BaseURL: srv.URL}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Transcribe(context.Background(), Request{AudioPath: newTestAudio(t), Language: "xx"})
	if err == nil || !strings.Contains(err.Error(), "openai transcription") {
		t.Errorf("error = %v", err)
	}
}

func TestNewOpenAIEngine_ModelDefault(t *testing.T) {
	e, err := NewOpenAIEngine(Options{APIKey: "sk", Model: "small"}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if e.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", e.model)
	}

	e, _ = NewOpenAIEngine(Options{APIKey: "sk", Model: "whisper-large-v3"}, logger.Nop())
	if e.model != "whisper-large-v3" {
		t.Errorf("model = %q", e.model)
	}
}
