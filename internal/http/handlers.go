// Package http holds the JSON handlers of the ingest, query and aggregation
// endpoints.
package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulse/internal/aggregator"
	"pulse/internal/errs"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/query"
)

// Handlers serves the API. The query service and aggregator outlive single
// requests so their caches and hooks are shared.
type Handlers struct {
	Query           *query.Service
	Aggregator      *aggregator.Aggregator
	Metrics         *telemetry.Metrics
	FingerprintSalt string
	// MaxRetentionDays bounds retention offsets computed by on-demand passes.
	MaxRetentionDays int
}

// listResponse is the body of every metric endpoint returning rows.
type listResponse struct {
	Success bool   `json:"success"`
	Metric  string `json:"metric"`
	Count   int    `json:"count"`
	Data    any    `json:"data"`
}

// objectResponse is the body of metric endpoints returning one object.
type objectResponse struct {
	Success bool   `json:"success"`
	Metric  string `json:"metric"`
	Data    any    `json:"data"`
}

func respondList(ctx *cartridge.Context, metric string, count int, data any) error {
	return ctx.JSON(listResponse{Success: true, Metric: metric, Count: count, Data: data})
}

func respondObject(ctx *cartridge.Context, metric string, data any) error {
	return ctx.JSON(objectResponse{Success: true, Metric: metric, Data: data})
}

// handleError maps domain errors to status codes: validation errors are 400,
// missing data is 404 and anything else is 500 with the details logged.
func handleError(ctx *cartridge.Context, message string, err error) error {
	var batch *errs.BatchValidationError
	switch {
	case errors.As(err, &batch):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   message,
			"details": batch.Error(),
			"records": batch.Failures,
		})
	case errs.IsValidation(err):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   message,
			"details": err.Error(),
		})
	case errs.IsNotFound(err):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   message,
			"details": err.Error(),
		})
	}

	ctx.Logger.Error(message,
		slog.String("path", ctx.Path()),
		slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   message,
		"details": err.Error(),
	})
}
