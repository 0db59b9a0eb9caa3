package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"pulse/internal/query"
)

const paramsKey = "query_params"

// QueryParams validates the metric query string once per request and stores
// the result for handlers. Invalid parameters are answered with 400.
func QueryParams(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params, err := query.ParseParams(c.Queries())
		if err != nil {
			logger.Debug("Rejected query parameters",
				slog.String("path", c.Path()),
				slog.Any("error", err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Invalid query parameters",
				"details": err.Error(),
			})
		}
		c.Locals(paramsKey, params)
		return c.Next()
	}
}

// Params returns the parameters stored by QueryParams. Requests that did not
// go through the middleware are parsed on the spot.
func Params(c *fiber.Ctx) (query.Params, error) {
	if p, ok := c.Locals(paramsKey).(query.Params); ok {
		return p, nil
	}
	return query.ParseParams(c.Queries())
}
