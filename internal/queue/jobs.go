package queue

import (
	"context"
	"sync"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/pipeline"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// Job represents a transcription job
type Job struct {
	ID          string
	RequestName string
	SourceType  string
	FilePath    string
	Language    string
	CreatedAt   time.Time

	// Events carries the pipeline output of this job to any number of
	// websocket subscribers
	Events *pipeline.Broadcaster

	mu        sync.Mutex
	status    string
	err       string
	windows   int
	paths     *storage.SavedPaths
	gdriveURL string
	cancel    context.CancelFunc
}

// JobStatus is a point-in-time view of a job
type JobStatus struct {
	ID          string              `json:"job_id"`
	RequestName string              `json:"request_name"`
	SourceType  string              `json:"source_type"`
	Language    string              `json:"language"`
	Status      string              `json:"status"`
	Error       string              `json:"error,omitempty"`
	Windows     int                 `json:"windows"`
	Files       *storage.SavedPaths `json:"files,omitempty"`
	GDriveURL   string              `json:"gdrive_url,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// NewJob creates a new job with default values
func NewJob(id, requestName, sourceType, filePath, language string) *Job {
	return &Job{
		ID:          id,
		RequestName: requestName,
		SourceType:  sourceType,
		FilePath:    filePath,
		Language:    language,
		CreatedAt:   time.Now(),
		status:      types.StatusQueued,
	}
}

// Status returns the current job status
func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns a copy of the job state
func (j *Job) Snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		ID:          j.ID,
		RequestName: j.RequestName,
		SourceType:  j.SourceType,
		Language:    j.Language,
		Status:      j.status,
		Error:       j.err,
		Windows:     j.windows,
		Files:       j.paths,
		GDriveURL:   j.gdriveURL,
		CreatedAt:   j.CreatedAt,
	}
}

// Name returns the request name
func (j *Job) Name() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.RequestName
}

// SetName renames a job whose name is only known after its input is captured
func (j *Job) SetName(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.RequestName = name
}

func (j *Job) setStatus(status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.err = errMsg
}

func (j *Job) setResult(windows int, paths *storage.SavedPaths, gdriveURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.windows = windows
	j.paths = paths
	j.gdriveURL = gdriveURL
}

// markQueued moves a fresh or capturing job to QUEUED. It reports false if
// the job was cancelled during capture.
func (j *Job) markQueued() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == types.StatusCancelled {
		return false
	}
	j.status = types.StatusQueued
	j.err = ""
	return true
}

// start moves a queued job to PROCESSING. It reports false if the job was
// cancelled while waiting in the queue.
func (j *Job) start(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != types.StatusQueued {
		return false
	}
	j.status = types.StatusProcessing
	j.cancel = cancel
	return true
}

// requestCancel asks the job to stop. A capturing or queued job is cancelled
// at once, a running one stops before its next window.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.status {
	case types.StatusCapturing, types.StatusQueued:
		j.status = types.StatusCancelled
		return true
	case types.StatusProcessing:
		if j.cancel != nil {
			j.cancel()
		}
		return true
	}
	return false
}
