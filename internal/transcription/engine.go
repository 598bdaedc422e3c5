package transcription

import (
	"context"
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// Request describes one engine invocation for a window artifact
type Request struct {
	AudioPath string
	Language  string
	Task      string // "transcribe" or "translate"
	Verbose   bool

	// OnSegment, when set, receives segments as the engine produces them,
	// in emission order. Engines that only return a batch never call it.
	OnSegment func(types.Segment)
}

// Engine turns an audio artifact into timestamped segments.
// Implementations are not required to support concurrent calls.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*types.WindowResult, error)
}

// Options selects and configures an engine
type Options struct {
	Provider string
	Model    string
	Device   string
	Threads  int
	Python   string
	APIKey   string
	BaseURL  string
	TempDir  string
}

// New creates the engine named by opts.Provider. Engines are meant to be
// created once per process and shared by every run.
func New(opts Options, log *logger.Logger) (Engine, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "whisper":
		return NewWhisperTranscriber(opts, log)
	case "openai":
		return NewOpenAIEngine(opts, log)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}

// languageHint returns "" when the engine should detect the language itself
func languageHint(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if lang == "auto" {
		return ""
	}
	return lang
}
