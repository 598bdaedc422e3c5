package transcription

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// OpenAIEngine transcribes through an OpenAI-compatible audio API
type OpenAIEngine struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

// NewOpenAIEngine creates an engine for OpenAI or any compatible server
// (Groq, a local whisper server) when BaseURL is set
func NewOpenAIEngine(opts Options, log *logger.Logger) (*OpenAIEngine, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	model := opts.Model
	if model == "" || (!strings.Contains(model, "whisper") && !strings.Contains(model, "transcribe")) {
		model = openai.Whisper1
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		log:    log.Named("openai"),
	}, nil
}

// Transcribe uploads the artifact and maps the verbose JSON response
func (e *OpenAIEngine) Transcribe(ctx context.Context, req Request) (*types.WindowResult, error) {
	audioReq := openai.AudioRequest{
		Model:    e.model,
		FilePath: req.AudioPath,
		Language: languageHint(req.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	start := time.Now()
	var (
		resp openai.AudioResponse
		err  error
	)
	if req.Task == "translate" {
		resp, err = e.client.CreateTranslation(ctx, audioReq)
	} else {
		resp, err = e.client.CreateTranscription(ctx, audioReq)
	}
	if err != nil {
		e.log.Warnf("API call failed after %v: %v", time.Since(start), err)
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	result := &types.WindowResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]types.Segment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, types.Segment{
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
		})
	}

	// Some compatible servers return text without segments
	if len(result.Segments) == 0 && result.Text != "" {
		result.Segments = append(result.Segments, types.Segment{Start: 0, End: resp.Duration, Text: result.Text})
	}

	e.log.Infof("Transcribed %s: %d segments in %v", filepath.Base(req.AudioPath), len(result.Segments), time.Since(start).Round(time.Millisecond))
	return result, nil
}
