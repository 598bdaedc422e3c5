package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/media"
	"github.com/codebuildervaibhav/longform-transcriber/internal/pipeline"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

var (
	// ErrQueueFull is returned when the job queue has no free slot
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")

	// ErrJobCancelled is returned when a job is cancelled before it is queued
	ErrJobCancelled = errors.New("job cancelled")
)

// Runner runs one input through the transcription pipeline
type Runner interface {
	Run(ctx context.Context, inputPath, language string, out pipeline.Sink) (*types.ResultLog, error)
}

// Uploader mirrors saved transcripts to remote storage
type Uploader interface {
	Upload(ctx context.Context, paths *storage.SavedPaths) (string, error)
}

// Options tunes the worker pool
type Options struct {
	Workers      int
	QueueSize    int
	SinkBuffer   int           // per-subscriber event buffer
	AudioFormat  string        // decoded artifact removed together with the input
	Model        string        // recorded in transcript metadata
	DriveRetries int           // upload attempts
	DriveBackoff time.Duration // base backoff, grows quadratically
}

// WorkerPool manages a pool of workers processing transcription jobs
type WorkerPool struct {
	jobQueue     chan *Job
	opts         Options
	runner       Runner
	localStorage *storage.LocalStorage
	driveClient  Uploader
	db           *storage.MetadataDB
	log          *logger.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. driveClient and db may be nil.
func NewWorkerPool(
	opts Options,
	runner Runner,
	localStorage *storage.LocalStorage,
	driveClient Uploader,
	db *storage.MetadataDB,
	log *logger.Logger,
) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = 256
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "wav"
	}
	if opts.DriveRetries <= 0 {
		opts.DriveRetries = 3
	}
	if opts.DriveBackoff == 0 {
		opts.DriveBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue:     make(chan *Job, opts.QueueSize),
		opts:         opts,
		runner:       runner,
		localStorage: localStorage,
		driveClient:  driveClient,
		db:           db,
		log:          log.Named("queue"),
		jobs:         make(map[string]*Job),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	wp.log.Infof("Starting worker pool with %d workers", wp.opts.Workers)
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels running jobs (they stop before their next window), waits
// for the workers to exit and cancels every job still waiting in the queue
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()

	for {
		select {
		case job := <-wp.jobQueue:
			wp.log.Infof("Job %s: cancelled by shutdown before it started", job.ID)
			job.Events.Publish(types.Event{Type: types.EventFailed, Error: "worker pool stopped"})
			wp.finish(job, types.StatusCancelled, "worker pool stopped")
			job.Events.Close()
			wp.cleanupInput(job)
		default:
			return
		}
	}
}

// Register makes a job visible as CAPTURING while its input is still being
// acquired. EnqueueJob or Fail must follow.
func (wp *WorkerPool) Register(job *Job) {
	if job.Events == nil {
		job.Events = pipeline.NewBroadcaster(wp.opts.SinkBuffer)
	}
	job.setStatus(types.StatusCapturing, "")

	wp.mu.Lock()
	wp.jobs[job.ID] = job
	wp.mu.Unlock()

	if wp.db != nil {
		if err := wp.db.CreateJob(job.ID, job.Name(), job.SourceType, types.StatusCapturing, job.Language); err != nil {
			wp.log.Warnf("Job %s: database insert failed: %v", job.ID, err)
		}
	}
}

// Fail ends a registered job whose input could not be acquired
func (wp *WorkerPool) Fail(job *Job, cause error) {
	status := types.StatusFailed
	if job.Status() == types.StatusCancelled {
		status = types.StatusCancelled
	}
	job.Events.Publish(types.Event{Type: types.EventFailed, Error: cause.Error()})
	wp.finish(job, status, cause.Error())
	job.Events.Close()
	wp.cleanupInput(job)
}

// EnqueueJob adds a job to the queue
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	if job.Events == nil {
		job.Events = pipeline.NewBroadcaster(wp.opts.SinkBuffer)
	}

	wp.mu.Lock()
	_, registered := wp.jobs[job.ID]
	wp.jobs[job.ID] = job
	wp.mu.Unlock()

	if !job.markQueued() {
		wp.Fail(job, ErrJobCancelled)
		return ErrJobCancelled
	}

	if wp.db != nil {
		var err error
		if registered {
			err = wp.db.RenameJob(job.ID, job.Name(), types.StatusQueued)
		} else {
			err = wp.db.CreateJob(job.ID, job.Name(), job.SourceType, types.StatusQueued, job.Language)
		}
		if err != nil {
			wp.log.Warnf("Job %s: database write failed: %v", job.ID, err)
		}
	}

	select {
	case wp.jobQueue <- job:
	default:
		wp.finish(job, types.StatusFailed, ErrQueueFull.Error())
		job.Events.Close()
		wp.cleanupInput(job)
		return ErrQueueFull
	}

	wp.log.Infof("Job %s enqueued (source: %s, name: %s)", job.ID, job.SourceType, job.Name())
	return nil
}

// Get returns a job by id
func (wp *WorkerPool) Get(id string) (*Job, bool) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	job, ok := wp.jobs[id]
	return job, ok
}

// Cancel requests cancellation of a queued or running job
func (wp *WorkerPool) Cancel(id string) error {
	job, ok := wp.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.requestCancel() {
		return fmt.Errorf("job %s is already %s", id, job.Status())
	}
	wp.log.Infof("Job %s: cancellation requested", id)
	return nil
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	wp.log.Debugf("Worker %d started", id)

	for {
		select {
		case <-wp.ctx.Done():
			wp.log.Debugf("Worker %d stopped", id)
			return
		case job := <-wp.jobQueue:
			wp.safeProcess(id, job)
		}
	}
}

func (wp *WorkerPool) safeProcess(workerID int, job *Job) {
	defer job.Events.Close()
	defer func() {
		if r := recover(); r != nil {
			wp.log.Errorf("Worker %d: PANIC processing job %s: %v\n%s",
				workerID, job.ID, r, string(debug.Stack()))
			msg := fmt.Sprintf("worker panic: %v", r)
			job.Events.Publish(types.Event{Type: types.EventFailed, Error: msg})
			wp.finish(job, types.StatusFailed, msg)
			wp.cleanupInput(job)
		}
	}()

	wp.processJob(workerID, job)
}

// processJob runs the pipeline and persists whatever it produced
func (wp *WorkerPool) processJob(workerID int, job *Job) {
	ctx, cancel := context.WithCancel(wp.ctx)
	defer cancel()

	if !job.start(cancel) {
		wp.log.Infof("Worker %d: skipping job %s (%s)", workerID, job.ID, job.Status())
		job.Events.Publish(types.Event{Type: types.EventFailed, Error: "job cancelled while queued"})
		wp.finish(job, job.Status(), "cancelled while queued")
		wp.cleanupInput(job)
		return
	}
	defer wp.cleanupInput(job)

	wp.log.Infof("Worker %d: Processing job %s", workerID, job.ID)
	if wp.db != nil {
		if err := wp.db.UpdateStatus(job.ID, types.StatusProcessing, ""); err != nil {
			wp.log.Warnf("Worker %d: database update failed: %v", workerID, err)
		}
	}

	result, runErr := wp.runner.Run(ctx, job.FilePath, job.Language, job.Events)

	status, errMsg := types.StatusCompleted, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status, errMsg = types.StatusCancelled, runErr.Error()
	default:
		status, errMsg = types.StatusFailed, runErr.Error()
	}
	if runErr != nil {
		wp.log.Warnf("Worker %d: job %s ended %s after %d window(s): %v",
			workerID, job.ID, status, result.Len(), runErr)
	}

	// A failed run still keeps the windows completed before the failure
	paths, driveURL := wp.persist(workerID, job, result, status, errMsg)
	job.setResult(result.Len(), paths, driveURL)
	wp.finish(job, status, errMsg)

	wp.log.Infof("Worker %d: Job %s %s (windows: %d, gdrive: %s)",
		workerID, job.ID, status, result.Len(), driveURL)
}

func (wp *WorkerPool) persist(workerID int, job *Job, result *types.ResultLog, status, errMsg string) (*storage.SavedPaths, string) {
	if result.Len() == 0 {
		return nil, ""
	}

	meta := &storage.TranscriptMeta{
		JobID:       job.ID,
		RequestName: job.Name(),
		SourceType:  job.SourceType,
		Status:      status,
		Language:    windowLanguage(result, job.Language),
		Model:       wp.opts.Model,
		Error:       errMsg,
		CreatedAt:   job.CreatedAt,
	}

	paths, err := wp.localStorage.SaveTranscript(result, meta)
	if err != nil {
		wp.log.Errorf("Worker %d: Local save failed for job %s: %v", workerID, job.ID, err)
		return nil, ""
	}

	driveURL := wp.upload(workerID, paths)
	if driveURL != "" {
		meta.GDriveURL = driveURL
		if err := wp.localStorage.WriteMeta(paths.Meta, meta); err != nil {
			wp.log.Warnf("Worker %d: metadata rewrite failed: %v", workerID, err)
		}
	}

	if wp.db != nil {
		err := wp.db.SaveTranscript(&storage.Record{
			JobID:      job.ID,
			Status:     status,
			Language:   meta.Language,
			Windows:    meta.Windows,
			Duration:   meta.Duration,
			WordCount:  meta.WordCount,
			LocalPath:  paths.Text,
			ResultPath: paths.Result,
			GDriveURL:  driveURL,
			Error:      errMsg,
		})
		if err != nil {
			wp.log.Errorf("Worker %d: Database save failed: %v", workerID, err)
		}
	}
	return paths, driveURL
}

// upload mirrors the files to Google Drive, retrying with growing backoff
func (wp *WorkerPool) upload(workerID int, paths *storage.SavedPaths) string {
	if wp.driveClient == nil {
		return ""
	}

	attempts := wp.opts.DriveRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		url, err := wp.driveClient.Upload(context.Background(), paths)
		if err == nil {
			return url
		}
		wp.log.Warnf("Worker %d: Google Drive upload attempt %d/%d failed: %v", workerID, attempt, attempts, err)
		if attempt < attempts {
			time.Sleep(time.Duration(attempt*attempt) * wp.opts.DriveBackoff)
		}
	}
	wp.log.Warnf("Worker %d: Google Drive upload failed after %d attempts, continuing with local save only", workerID, attempts)
	return ""
}

func (wp *WorkerPool) finish(job *Job, status, errMsg string) {
	job.setStatus(status, errMsg)
	if wp.db == nil {
		return
	}
	if err := wp.db.UpdateStatus(job.ID, status, errMsg); err != nil {
		wp.log.Warnf("Job %s: database update failed: %v", job.ID, err)
	}
}

// cleanupInput removes the acquired input and its decoded audio. CLI runs
// work on user files and are never cleaned up.
func (wp *WorkerPool) cleanupInput(job *Job) {
	if job.SourceType == types.SourceCLI || job.FilePath == "" {
		return
	}
	for _, path := range []string{job.FilePath, media.AudioPath(job.FilePath, wp.opts.AudioFormat)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			wp.log.Warnf("Failed to cleanup temp file %s: %v", path, err)
		}
	}
}

func windowLanguage(result *types.ResultLog, fallback string) string {
	for _, w := range result.Windows {
		if w.Language != "" {
			return w.Language
		}
	}
	return fallback
}
