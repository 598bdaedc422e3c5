package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Debug bool `yaml:"debug"`

	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Provider string `yaml:"provider"` // "whisper" (local CLI) or "openai"
		Model    string `yaml:"model"`
		Device   string `yaml:"device"` // "cpu" or "cuda"
		Threads  int    `yaml:"threads"`
		Python   string `yaml:"python"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"whisper"`

	Pipeline struct {
		Window      time.Duration `yaml:"window"`
		AudioFormat string        `yaml:"audio_format"`
		SliceFormat string        `yaml:"slice_format"`
		Language    string        `yaml:"language"`
		Retries     int           `yaml:"retries"`
		SinkBuffer  int           `yaml:"sink_buffer"`
	} `yaml:"pipeline"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Whisper.Provider {
	case "whisper", "openai":
	default:
		return fmt.Errorf("unsupported whisper provider: %q", c.Whisper.Provider)
	}
	if c.Whisper.Provider == "openai" && c.Whisper.APIKey == "" && c.Whisper.BaseURL == "" {
		return fmt.Errorf("openai provider requires api_key (or OPENAI_API_KEY)")
	}
	if c.Pipeline.Window <= 0 {
		return fmt.Errorf("pipeline window must be positive, got %s", c.Pipeline.Window)
	}
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline retries must not be negative, got %d", c.Pipeline.Retries)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Whisper.Provider == "" {
		c.Whisper.Provider = "whisper"
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "small"
	}
	if c.Whisper.Device == "" {
		c.Whisper.Device = "cuda"
	}
	if c.Whisper.Python == "" {
		c.Whisper.Python = "python"
	}
	if c.Pipeline.Window == 0 {
		c.Pipeline.Window = 10 * time.Minute
	}
	if c.Pipeline.AudioFormat == "" {
		c.Pipeline.AudioFormat = "wav"
	}
	if c.Pipeline.SliceFormat == "" {
		c.Pipeline.SliceFormat = "mp3"
	}
	if c.Pipeline.Language == "" {
		c.Pipeline.Language = "en"
	}
	if c.Pipeline.SinkBuffer == 0 {
		c.Pipeline.SinkBuffer = 256
	}
	// The engine is not safely shareable, one worker per process by default
	if c.Workers.Count == 0 {
		c.Workers.Count = 1
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "transcripts.db"
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.GoogleDrive.FolderName == "" {
		c.GoogleDrive.FolderName = "Transcripts"
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 2048
	}
}

func (c *Config) applyEnv() {
	if c.Whisper.APIKey == "" {
		c.Whisper.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("TRANSCRIBER_WHISPER_PROVIDER"); v != "" {
		c.Whisper.Provider = v
	}
}
