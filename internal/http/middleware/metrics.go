package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"pulse/internal/pkg/telemetry"
)

// RequestMetrics observes the duration of every request by route pattern.
func RequestMetrics(m *telemetry.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		m.RecordRequest(c.Method(), c.Route().Path, status, time.Since(started))
		return err
	}
}
