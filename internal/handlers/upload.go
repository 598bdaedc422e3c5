package handlers

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/media"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// Settings are shared by the input handlers
type Settings struct {
	TempDir   string
	Language  string // used when a request names none
	MaxSizeMB int
}

// UploadHandler handles file uploads
type UploadHandler struct {
	workerPool *queue.WorkerPool
	settings   Settings
	log        *logger.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(workerPool *queue.WorkerPool, settings Settings, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		workerPool: workerPool,
		settings:   settings,
		log:        log.Named("upload"),
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "No file uploaded", "ERR_NO_FILE")
	}

	requestName := c.FormValue("name", "untitled")
	language := c.FormValue("language", h.settings.Language)

	maxSize := int64(h.settings.MaxSizeMB) * 1024 * 1024
	if h.settings.MaxSizeMB > 0 && file.Size > maxSize {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Sprintf("File too large (max %dMB)", h.settings.MaxSizeMB), "ERR_FILE_TOO_LARGE")
	}

	if !media.ValidateFormat(file.Filename) {
		return apiError(c, fiber.StatusBadRequest, "Unsupported media format", "ERR_INVALID_FORMAT")
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.settings.TempDir, jobID+filepath.Ext(file.Filename))

	if err := c.SaveFile(file, tempPath); err != nil {
		h.log.Errorf("Failed to save uploaded file: %v", err)
		return apiError(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}

	job := queue.NewJob(jobID, requestName, types.SourceUpload, tempPath, language)
	if err := h.workerPool.EnqueueJob(job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return apiError(c, fiber.StatusServiceUnavailable, "Too many jobs queued, try again later", "ERR_QUEUE_FULL")
		}
		return apiError(c, fiber.StatusInternalServerError, err.Error(), "ERR_ENQUEUE_FAILED")
	}

	return queued(c, jobID, "queued", "File uploaded successfully, processing started")
}
