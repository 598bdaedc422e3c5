package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

var gdrivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`), // https://drive.google.com/file/d/{ID}/view
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),  // https://drive.google.com/open?id={ID}
	regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`), // bare ID
}

// GDriveHandler handles Google Drive link processing
type GDriveHandler struct {
	workerPool  *queue.WorkerPool
	settings    Settings
	client      *http.Client
	downloadURL string // format string taking the file ID
	log         *logger.Logger
}

// NewGDriveHandler creates a new Google Drive handler
func NewGDriveHandler(workerPool *queue.WorkerPool, settings Settings, log *logger.Logger) *GDriveHandler {
	return &GDriveHandler{
		workerPool:  workerPool,
		settings:    settings,
		client:      &http.Client{Timeout: 30 * time.Minute},
		downloadURL: "https://drive.google.com/uc?export=download&id=%s",
		log:         log.Named("gdrive"),
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Handle processes Google Drive link requests
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}

	if req.URL == "" {
		return apiError(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return apiError(c, fiber.StatusBadRequest, "Invalid Google Drive URL", "ERR_INVALID_URL")
	}

	if req.Name == "" {
		req.Name = "gdrive_file"
	}
	if req.Language == "" {
		req.Language = h.settings.Language
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.settings.TempDir, jobID+".mp3")

	h.log.Infof("Downloading from Google Drive: %s", fileID)
	if err := h.download(c, fileID, tempPath); err != nil {
		os.Remove(tempPath)
		var nf *notAccessibleError
		if errors.As(err, &nf) {
			return apiError(c, fiber.StatusBadRequest,
				"File not accessible (may be private or doesn't exist)", "ERR_FILE_NOT_ACCESSIBLE")
		}
		h.log.Errorf("Failed to download from Google Drive: %v", err)
		return apiError(c, fiber.StatusInternalServerError,
			"Failed to download file from Google Drive", "ERR_DOWNLOAD_FAILED")
	}

	job := queue.NewJob(jobID, req.Name, types.SourceGDrive, tempPath, req.Language)
	if err := h.workerPool.EnqueueJob(job); err != nil {
		return apiError(c, fiber.StatusServiceUnavailable, err.Error(), "ERR_QUEUE_FULL")
	}

	return queued(c, jobID, "queued", "Google Drive file downloaded, processing started")
}

type notAccessibleError struct {
	status int
}

func (e *notAccessibleError) Error() string {
	return fmt.Sprintf("drive returned status %d", e.status)
}

func (h *GDriveHandler) download(c *fiber.Ctx, fileID, tempPath string) error {
	httpReq, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, fmt.Sprintf(h.downloadURL, fileID), nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &notAccessibleError{status: resp.StatusCode}
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	for _, re := range gdrivePatterns {
		if matches := re.FindStringSubmatch(url); len(matches) > 1 {
			return matches[1]
		}
	}
	return ""
}
