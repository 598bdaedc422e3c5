package handlers

import (
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/storage"
)

// JobsHandler serves job status and saved transcripts
type JobsHandler struct {
	workerPool *queue.WorkerPool
	db         *storage.MetadataDB
	results    *storage.ResultStore
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(workerPool *queue.WorkerPool, db *storage.MetadataDB, results *storage.ResultStore) *JobsHandler {
	return &JobsHandler{
		workerPool: workerPool,
		db:         db,
		results:    results,
	}
}

// Status returns the live state of a job, falling back to the index for
// jobs from earlier server runs
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if job, ok := h.workerPool.Get(id); ok {
		return c.JSON(job.Snapshot())
	}

	rec, err := h.db.GetTranscript(id)
	if err != nil {
		return apiError(c, fiber.StatusNotFound, "Job not found", "ERR_JOB_NOT_FOUND")
	}
	return c.JSON(rec)
}

// Cancel stops a job before its next window
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.workerPool.Cancel(id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return apiError(c, fiber.StatusNotFound, "Job not found", "ERR_JOB_NOT_FOUND")
		}
		return apiError(c, fiber.StatusConflict, err.Error(), "ERR_NOT_CANCELLABLE")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": id,
		"status": "cancelling",
	})
}

// List returns the most recent transcripts
func (h *JobsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	transcripts, err := h.db.ListTranscripts(limit)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err.Error(), "ERR_DATABASE")
	}
	return c.JSON(transcripts)
}

// Text returns the plain text transcript
func (h *JobsHandler) Text(c *fiber.Ctx) error {
	rec, err := h.db.GetTranscript(c.Params("id"))
	if err != nil {
		return apiError(c, fiber.StatusNotFound, "Transcript not found", "ERR_NOT_FOUND")
	}
	if rec.LocalPath == "" {
		return apiError(c, fiber.StatusNotFound, "Transcript file path not found", "ERR_NOT_FOUND")
	}

	content, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "Failed to read transcript file", "ERR_READ_FAILED")
	}
	return c.SendString(string(content))
}

// Result returns the saved result log with window indices and segments
func (h *JobsHandler) Result(c *fiber.Ctx) error {
	rec, err := h.db.GetTranscript(c.Params("id"))
	if err != nil {
		return apiError(c, fiber.StatusNotFound, "Transcript not found", "ERR_NOT_FOUND")
	}
	if rec.ResultPath == "" {
		return apiError(c, fiber.StatusNotFound, "Result log not found", "ERR_NOT_FOUND")
	}

	log, err := h.results.Load(rec.ResultPath)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "Failed to read result log", "ERR_READ_FAILED")
	}
	return c.JSON(fiber.Map{
		"job_id":  rec.JobID,
		"status":  rec.Status,
		"windows": log.Windows,
	})
}
