package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulse/internal/errs"
	"pulse/internal/events"
	"pulse/internal/identity"
)

// ingestEnvelope is the batch form of an ingest body.
type ingestEnvelope struct {
	Context identity.Context    `json:"context"`
	Events  []events.EventInput `json:"events"`
}

// parseIngestBody accepts a single event, an array of events, or an envelope
// with an identity context and an events array.
func parseIngestBody(body []byte) (identity.Context, []events.EventInput, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return identity.Context{}, nil, errs.NewValidationError("body", "must not be empty")
	}

	if trimmed[0] == '[' {
		var batch []events.EventInput
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return identity.Context{}, nil, errs.NewValidationError("body", "must be valid JSON")
		}
		return identity.Context{}, batch, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return identity.Context{}, nil, errs.NewValidationError("body", "must be a JSON object or array")
	}
	if _, ok := probe["events"]; ok {
		var envelope ingestEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return identity.Context{}, nil, errs.NewValidationError("events", "must be an array of events")
		}
		return envelope.Context, envelope.Events, nil
	}

	var single events.EventInput
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return identity.Context{}, nil, errs.NewValidationError("body", "must be a valid event")
	}
	return identity.Context{}, []events.EventInput{single}, nil
}

// IngestAction stores a batch of events.
func (h *Handlers) IngestAction(ctx *cartridge.Context) error {
	idCtx, inputs, err := parseIngestBody(ctx.Body())
	if err != nil {
		h.Metrics.RecordIngestRejected()
		return handleError(ctx, "Invalid request body", err)
	}

	result, err := events.Ingest(ctx.DB(), ctx.Logger, events.IngestRequest{
		Context: idCtx,
		Events:  inputs,
		Client: events.ClientInfo{
			IPAddress: ClientIP(ctx.Ctx),
			UserAgent: userAgent(ctx),
		},
		ReceivedAt:      time.Now().UTC(),
		FingerprintSalt: h.FingerprintSalt,
	})
	if err != nil {
		if errs.IsValidation(err) {
			h.Metrics.RecordIngestRejected()
			return handleError(ctx, "Invalid events", err)
		}
		return handleError(ctx, "Failed to ingest events", err)
	}

	h.Metrics.RecordIngest(result.Count)
	ctx.Logger.Debug("Ingested batch", slog.Int("count", result.Count))
	return ctx.JSON(fiber.Map{
		"success":         true,
		"events_ingested": result.Count,
		"event_ids":       result.EventIDs,
	})
}

// IngestHealthAction describes the ingest endpoint.
func IngestHealthAction(ctx *cartridge.Context) error {
	return ctx.JSON(fiber.Map{
		"status":   "ok",
		"endpoint": "/api/events/ingest",
		"methods":  []string{fiber.MethodPost},
	})
}

// EventsQueryAction lists raw events, newest first.
func (h *Handlers) EventsQueryAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}

	rows, err := h.Query.Events(params)
	if err != nil {
		return handleError(ctx, "Failed to query events", err)
	}
	return ctx.JSON(fiber.Map{
		"success": true,
		"count":   len(rows),
		"events":  rows,
	})
}

// userAgent prefers the agent forwarded by a server-side relay over the
// relay's own.
func userAgent(ctx *cartridge.Context) string {
	if forwarded := ctx.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return ctx.Get(fiber.HeaderUserAgent)
}
