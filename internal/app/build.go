// Package app assembles the transcription components from configuration.
package app

import (
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/chunker"
	"github.com/codebuildervaibhav/longform-transcriber/internal/config"
	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/media"
	"github.com/codebuildervaibhav/longform-transcriber/internal/pipeline"
	"github.com/codebuildervaibhav/longform-transcriber/internal/transcription"
)

// EngineOptions maps the whisper section to engine options
func EngineOptions(cfg *config.Config) transcription.Options {
	return transcription.Options{
		Provider: cfg.Whisper.Provider,
		Model:    cfg.Whisper.Model,
		Device:   cfg.Whisper.Device,
		Threads:  cfg.Whisper.Threads,
		Python:   cfg.Whisper.Python,
		APIKey:   cfg.Whisper.APIKey,
		BaseURL:  cfg.Whisper.BaseURL,
		TempDir:  cfg.Storage.TempDir,
	}
}

// NewPipeline builds the decoder, chunker and engine and joins them into
// a pipeline. The engine is created once and reused by every run.
func NewPipeline(cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	engine, err := transcription.New(EngineOptions(cfg), log)
	if err != nil {
		return nil, err
	}
	return NewPipelineWithEngine(cfg, engine, log), nil
}

// NewPipelineWithEngine builds a pipeline around an existing engine
func NewPipelineWithEngine(cfg *config.Config, engine transcription.Engine, log *logger.Logger) *pipeline.Pipeline {
	ff := media.NewFFmpeg()
	decoder := media.NewDecoder(ff, ff, log)
	ch := chunker.New(ff, cfg.Storage.TempDir, cfg.Pipeline.Window, cfg.Pipeline.SliceFormat, log)

	return pipeline.New(decoder, ch, engine, pipeline.Options{
		AudioFormat:  cfg.Pipeline.AudioFormat,
		Retries:      cfg.Pipeline.Retries,
		RetryBackoff: time.Second,
	}, log)
}
