package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// YouTubeHandler handles YouTube video audio capture
type YouTubeHandler struct {
	workerPool  *queue.WorkerPool
	settings    Settings
	ytDlp       string
	lookupTitle func(ctx context.Context, url string) (string, error)
	log         *logger.Logger
}

// NewYouTubeHandler creates a new YouTube handler
func NewYouTubeHandler(workerPool *queue.WorkerPool, settings Settings, log *logger.Logger) *YouTubeHandler {
	return &YouTubeHandler{
		workerPool:  workerPool,
		settings:    settings,
		ytDlp:       "yt-dlp",
		lookupTitle: pageTitle,
		log:         log.Named("youtube"),
	}
}

// YouTubeRequest represents the request body
type YouTubeRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Handle processes YouTube video requests
func (h *YouTubeHandler) Handle(c *fiber.Ctx) error {
	var req YouTubeRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "Invalid request body", "ERR_INVALID_BODY")
	}

	if req.URL == "" {
		return apiError(c, fiber.StatusBadRequest, "URL is required", "ERR_NO_URL")
	}
	if !isYouTubeURL(req.URL) {
		return apiError(c, fiber.StatusBadRequest, "Not a YouTube URL", "ERR_INVALID_URL")
	}

	jobID := uuid.New().String()
	tempPath := filepath.Join(h.settings.TempDir, jobID+".opus")
	job := h.capture(jobID, req, tempPath)

	return queued(c, job.ID, "capturing", "YouTube audio capture started (this may take a few minutes for long videos)")
}

// capture registers the job as CAPTURING and acquires its audio in the
// background, long videos take minutes
func (h *YouTubeHandler) capture(jobID string, req YouTubeRequest, tempPath string) *queue.Job {
	if req.Language == "" {
		req.Language = h.settings.Language
	}
	name := req.Name
	if name == "" {
		name = "youtube_video"
	}

	job := queue.NewJob(jobID, name, types.SourceYouTube, tempPath, req.Language)
	h.workerPool.Register(job)

	go func() {
		if err := h.acquire(job, req); err != nil {
			h.log.Errorf("Failed to capture YouTube audio for job %s: %v", jobID, err)
			h.workerPool.Fail(job, err)
			return
		}
		if err := h.workerPool.EnqueueJob(job); err != nil {
			h.log.Errorf("Failed to enqueue YouTube job %s: %v", jobID, err)
		}
	}()
	return job
}

func (h *YouTubeHandler) acquire(job *queue.Job, req YouTubeRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if req.Name == "" {
		title, err := h.lookupTitle(ctx, req.URL)
		if err != nil {
			h.log.Warnf("Page title lookup failed for %s: %v", req.URL, err)
		}
		if title != "" {
			job.SetName(title)
		}
	}

	return h.download(ctx, req.URL, job.FilePath)
}

// download extracts the audio track with yt-dlp
func (h *YouTubeHandler) download(ctx context.Context, videoURL, outputPath string) error {
	h.log.Infof("Using yt-dlp to download: %s", videoURL)

	cmd := exec.CommandContext(ctx, h.ytDlp,
		"-x",
		"--audio-format", "opus",
		"-o", outputPath,
		videoURL,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp failed: %w\nOutput: %s", err, string(output))
	}

	h.log.Infof("YouTube audio downloaded to %s", outputPath)
	return nil
}

// pageTitle loads the video page in headless Chrome and returns the video
// title, which names the transcript when the request does not
func pageTitle(ctx context.Context, videoURL string) (string, error) {
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var title string
	err := chromedp.Run(ctx,
		emulation.SetUserAgentOverride("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"),
		chromedp.Navigate(videoURL),
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("failed to load page: %w", err)
	}

	title = strings.TrimSpace(strings.TrimSuffix(title, "- YouTube"))
	if title == "" {
		return "", errors.New("page has no title")
	}
	return title, nil
}

func isYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}
