package http

import (
	"encoding/json"
	"time"

	"github.com/karloscodes/cartridge"

	"pulse/internal/aggregator"
	"pulse/internal/errs"
	"pulse/internal/timeframe"
)

// aggregationRequest is the body of an on-demand pass.
type aggregationRequest struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Families  []string `json:"families"`
	Grains    []string `json:"grains"`
	Recompute bool     `json:"recompute"`
}

// passRequest validates the body. An omitted range covers today.
func (r aggregationRequest) passRequest(now time.Time, maxRetentionDays int) (aggregator.PassRequest, error) {
	today := timeframe.DayWindow(now)
	window, err := timeframe.ParseRange(timeframe.RangeParams{
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}, today.Start, today.End)
	if err != nil {
		return aggregator.PassRequest{}, err
	}

	req := aggregator.PassRequest{
		Window:           window,
		MaxRetentionDays: maxRetentionDays,
		Recompute:        r.Recompute,
	}
	for _, name := range r.Families {
		family, err := aggregator.ParseFamily(name)
		if err != nil {
			return aggregator.PassRequest{}, err
		}
		req.Families = append(req.Families, family)
	}
	for _, name := range r.Grains {
		grain, err := timeframe.ParseGrain(name)
		if err != nil {
			return aggregator.PassRequest{}, err
		}
		req.Grains = append(req.Grains, grain)
	}
	return req, nil
}

// AggregationCreateAction runs an aggregation pass now and returns its summary.
// Only passes with "recompute": true may revise finalized periods.
func (h *Handlers) AggregationCreateAction(ctx *cartridge.Context) error {
	var body aggregationRequest
	if raw := ctx.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return handleError(ctx, "Invalid request body", errs.NewValidationError("body", "must be a JSON object"))
		}
	}

	req, err := body.passRequest(time.Now().UTC(), h.MaxRetentionDays)
	if err != nil {
		return handleError(ctx, "Invalid aggregation request", err)
	}

	result, err := h.Aggregator.Run(ctx.Ctx.Context(), req)
	if err != nil {
		return handleError(ctx, "Aggregation failed", err)
	}
	return ctx.JSON(result)
}
