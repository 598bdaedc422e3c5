package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// TranscriptMeta describes one saved run
type TranscriptMeta struct {
	JobID       string    `json:"job_id"`
	RequestName string    `json:"request_name"`
	SourceType  string    `json:"source_type"`
	Status      string    `json:"status"`
	Language    string    `json:"language"`
	Model       string    `json:"model_used"`
	Windows     int       `json:"windows"`
	Duration    float64   `json:"duration_seconds"`
	WordCount   int       `json:"word_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	GDriveURL   string    `json:"gdrive_url,omitempty"`
}

// SavedPaths lists the files written for one transcript
type SavedPaths struct {
	Text   string `json:"text"`
	Result string `json:"result"`
	Meta   string `json:"meta"`
}

// LocalStorage handles saving transcripts to the local filesystem
type LocalStorage struct {
	outputDir string
	results   *ResultStore
	now       func() time.Time
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string, results *ResultStore) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
		results:   results,
		now:       time.Now,
	}
}

// SaveTranscript writes the result log, a plain text rendering and the
// metadata under a dated directory: outputs/2025/01/23/
func (ls *LocalStorage) SaveTranscript(log *types.ResultLog, meta *TranscriptMeta) (*SavedPaths, error) {
	if log.Len() == 0 {
		return nil, ErrEmptyResult
	}

	now := ls.now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return nil, &PersistError{Op: "save", Path: dateDir, Err: err}
	}

	// 20250123_143022_podcast_episode
	baseFilename := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), SanitizeFilename(meta.RequestName))
	if meta.JobID != "" {
		baseFilename += "_" + shortID(meta.JobID)
	}

	paths := &SavedPaths{
		Text:   filepath.Join(dateDir, baseFilename+".txt"),
		Result: filepath.Join(dateDir, baseFilename+".json"),
		Meta:   filepath.Join(dateDir, baseFilename+"_meta.json"),
	}

	if err := ls.results.Save(log, paths.Result); err != nil {
		return nil, err
	}

	if err := os.WriteFile(paths.Text, []byte(RenderText(log)), 0644); err != nil {
		return nil, &PersistError{Op: "save", Path: paths.Text, Err: err}
	}

	meta.Windows = log.Len()
	meta.Duration = log.Duration()
	meta.WordCount = len(strings.Fields(log.Text()))
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if err := ls.WriteMeta(paths.Meta, meta); err != nil {
		return nil, err
	}

	return paths, nil
}

// WriteMeta (re)writes the metadata file, e.g. once a Drive URL is known
func (ls *LocalStorage) WriteMeta(path string, meta *TranscriptMeta) error {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &PersistError{Op: "encode", Path: path, Err: err}
	}
	if err := os.WriteFile(path, metaJSON, 0644); err != nil {
		return &PersistError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// SanitizeFilename replaces characters that are invalid in file names
func SanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))

	if result == "" {
		result = "untitled"
	}
	if len(result) > 100 {
		cut := 100
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
