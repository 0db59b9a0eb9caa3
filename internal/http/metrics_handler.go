package http

import (
	"github.com/karloscodes/cartridge"

	"pulse/internal/analytics"
	"pulse/internal/http/middleware"
	"pulse/internal/query"
)

func paramsFrom(ctx *cartridge.Context) (query.Params, error) {
	return middleware.Params(ctx.Ctx)
}

// activeUsers serves one of the dau, wau and mau endpoints.
func activeUsers(ctx *cartridge.Context, metric string, read func(query.Params) ([]analytics.ActiveUserStat, error)) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := read(params)
	if err != nil {
		return handleError(ctx, "Failed to get "+metric, err)
	}
	return respondList(ctx, metric, len(rows), rows)
}

// DailyActiveUsersAction lists daily active users, newest day first.
func (h *Handlers) DailyActiveUsersAction(ctx *cartridge.Context) error {
	return activeUsers(ctx, "daily_active_users", h.Query.DailyActiveUsers)
}

// WeeklyActiveUsersAction lists weekly active users.
func (h *Handlers) WeeklyActiveUsersAction(ctx *cartridge.Context) error {
	return activeUsers(ctx, "weekly_active_users", h.Query.WeeklyActiveUsers)
}

// MonthlyActiveUsersAction lists monthly active users.
func (h *Handlers) MonthlyActiveUsersAction(ctx *cartridge.Context) error {
	return activeUsers(ctx, "monthly_active_users", h.Query.MonthlyActiveUsers)
}

// SessionsAction lists session facts or their per-period rollup.
func (h *Handlers) SessionsAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	result, err := h.Query.Sessions(params)
	if err != nil {
		return handleError(ctx, "Failed to get sessions", err)
	}
	return respondList(ctx, "sessions", result.Count(), result.Data())
}

func (h *Handlers) RetentionAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := h.Query.Retention(params)
	if err != nil {
		return handleError(ctx, "Failed to get retention", err)
	}
	return respondList(ctx, "retention", len(rows), rows)
}

func (h *Handlers) RetentionCurveAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	curve, err := h.Query.RetentionCurve(params)
	if err != nil {
		return handleError(ctx, "Failed to get retention curve", err)
	}
	return respondObject(ctx, "retention_curve", curve)
}

func (h *Handlers) FunnelAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	funnel, err := h.Query.Funnel(params)
	if err != nil {
		return handleError(ctx, "Failed to get funnel", err)
	}
	return respondObject(ctx, "funnel", funnel)
}

func (h *Handlers) TopEventsAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := h.Query.TopEvents(params)
	if err != nil {
		return handleError(ctx, "Failed to get top events", err)
	}
	return respondList(ctx, "top_events", len(rows), rows)
}

func (h *Handlers) TopPagesAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := h.Query.TopPages(params)
	if err != nil {
		return handleError(ctx, "Failed to get top pages", err)
	}
	return respondList(ctx, "top_pages", len(rows), rows)
}

func (h *Handlers) TopCountriesAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := h.Query.TopCountries(params)
	if err != nil {
		return handleError(ctx, "Failed to get top countries", err)
	}
	return respondList(ctx, "top_countries", len(rows), rows)
}

func (h *Handlers) TopReferrersAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	rows, err := h.Query.TopReferrers(ctx.Ctx.Context(), params)
	if err != nil {
		return handleError(ctx, "Failed to get top referrers", err)
	}
	return respondList(ctx, "top_referrers", len(rows), rows)
}

// OverviewAction summarizes the log and the published tables.
func (h *Handlers) OverviewAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	overview, err := h.Query.Overview(ctx.Ctx.Context(), params)
	if err != nil {
		return handleError(ctx, "Failed to get overview", err)
	}
	return respondObject(ctx, "overview", overview)
}

func (h *Handlers) StickinessAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	result, err := h.Query.Stickiness(params)
	if err != nil {
		return handleError(ctx, "Failed to get stickiness", err)
	}
	return respondObject(ctx, "stickiness", result)
}

func (h *Handlers) GrowthAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	result, err := h.Query.Growth(params)
	if err != nil {
		return handleError(ctx, "Failed to get growth", err)
	}
	return respondObject(ctx, "growth", result)
}

func (h *Handlers) EngagementAction(ctx *cartridge.Context) error {
	params, err := paramsFrom(ctx)
	if err != nil {
		return handleError(ctx, "Invalid query parameters", err)
	}
	result, err := h.Query.Engagement(params)
	if err != nil {
		return handleError(ctx, "Failed to get engagement", err)
	}
	return respondObject(ctx, "engagement", result)
}
