package handlers

import "github.com/gofiber/fiber/v2"

// apiError writes the {"error": ..., "code": ...} body used by every endpoint
func apiError(c *fiber.Ctx, status int, msg, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

// queued is the response for an accepted job
func queued(c *fiber.Ctx, jobID, status, message string) error {
	return c.JSON(fiber.Map{
		"job_id":  jobID,
		"status":  status,
		"message": message,
		"events":  "/ws/jobs/" + jobID,
	})
}
