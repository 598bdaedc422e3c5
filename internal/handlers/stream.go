package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/queue"
)

// StreamHandler streams the pipeline events of a job over a WebSocket
type StreamHandler struct {
	workerPool *queue.WorkerPool
	log        *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(workerPool *queue.WorkerPool, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		workerPool: workerPool,
		log:        log.Named("stream"),
	}
}

// Upgrade rejects plain HTTP requests and unknown jobs before the
// WebSocket handshake
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return apiError(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required", "ERR_UPGRADE_REQUIRED")
	}
	job, ok := h.workerPool.Get(c.Params("id"))
	if !ok {
		return apiError(c, fiber.StatusNotFound, "Job not found", "ERR_JOB_NOT_FOUND")
	}
	c.Locals("job", job)
	return c.Next()
}

// Handle forwards every event of the job to the client as JSON until the
// run ends or the client goes away
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	job := c.Locals("job").(*queue.Job)
	sub := job.Events.Subscribe()
	defer job.Events.Unsubscribe(sub)

	h.log.Infof("WebSocket subscriber attached to job %s", job.ID)

	// Client messages are ignored; a read error means the client left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			h.log.Infof("WebSocket subscriber left job %s", job.ID)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.Status()))
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				h.log.Warnf("WebSocket write error for job %s: %v", job.ID, err)
				return
			}
		}
	}
}
