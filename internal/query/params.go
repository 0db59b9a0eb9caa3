package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulse/internal/errs"
	"pulse/internal/timeframe"
)

// Defaults applied when a request omits limit or max_days.
const (
	DefaultDAULimit       = 30
	DefaultWAULimit       = 52
	DefaultMAULimit       = 12
	DefaultRetentionLimit = 1000
	DefaultMaxDays        = 30
	DefaultTopLimit       = 10
	DefaultSessionsLimit  = 1000
	DefaultEventsLimit    = 100
)

// Params are the validated query parameters shared by the metric reads.
type Params struct {
	// Window is nil when neither start_date nor end_date was given.
	Window       *timeframe.Window
	Limit        *int
	MaxDays      *int
	CohortDate   *time.Time
	AggregateBy  timeframe.Grain
	Date         *time.Time
	Metric       string
	CurrentDate  *time.Time
	PreviousDate *time.Time
	Funnel       string
	EventName    string
	UserID       string
}

// LimitOr returns the requested limit or def.
func (p Params) LimitOr(def int) int {
	if p.Limit == nil {
		return def
	}
	return *p.Limit
}

// MaxDaysOr returns the requested max_days or def.
func (p Params) MaxDaysOr(def int) int {
	if p.MaxDays == nil {
		return def
	}
	return *p.MaxDays
}

// Open bounds for half-given ranges. rangeEnd stays a four-digit year after
// widening to whole periods so stored times still compare as text.
var (
	rangeStart = time.Unix(0, 0).UTC()
	rangeEnd   = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

// ParseParams validates raw query-string values.
func ParseParams(values map[string]string) (Params, error) {
	var p Params
	get := func(key string) string { return strings.TrimSpace(values[key]) }

	if get("start_date") != "" || get("end_date") != "" {
		w, err := timeframe.ParseRange(timeframe.RangeParams{
			StartDate: get("start_date"),
			EndDate:   get("end_date"),
		}, rangeStart, rangeEnd)
		if err != nil {
			return Params{}, err
		}
		p.Window = &w
	}

	var err error
	if p.Limit, err = parseCount("limit", get("limit")); err != nil {
		return Params{}, err
	}
	if p.MaxDays, err = parseCount("max_days", get("max_days")); err != nil {
		return Params{}, err
	}

	for key, dst := range map[string]**time.Time{
		"cohort_date":   &p.CohortDate,
		"date":          &p.Date,
		"current_date":  &p.CurrentDate,
		"previous_date": &p.PreviousDate,
	} {
		if raw := get(key); raw != "" {
			t, err := timeframe.ParseDate(key, raw)
			if err != nil {
				return Params{}, err
			}
			*dst = &t
		}
	}

	p.AggregateBy = timeframe.GrainDay
	if raw := get("aggregate_by"); raw != "" {
		g, err := timeframe.ParseGrain(raw)
		if err != nil {
			return Params{}, errs.NewValidationError("aggregate_by", fmt.Sprintf("must be day, week or month, got %q", raw))
		}
		p.AggregateBy = g
	}

	p.Metric = get("metric")
	p.Funnel = get("funnel")
	p.EventName = get("event_name")
	p.UserID = get("user_id")
	return p, nil
}

func parseCount(field, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errs.NewValidationError(field, fmt.Sprintf("must be an integer, got %q", raw))
	}
	if n < 0 {
		return nil, errs.NewValidationError(field, "must not be negative")
	}
	return &n, nil
}

// cacheKey identifies a read by operation and parameters.
func (p Params) cacheKey(op string) string {
	var b strings.Builder
	b.WriteString(op)
	if p.Window != nil {
		fmt.Fprintf(&b, "|w=%d-%d", p.Window.Start.Unix(), p.Window.End.Unix())
	}
	if p.Limit != nil {
		fmt.Fprintf(&b, "|l=%d", *p.Limit)
	}
	if p.MaxDays != nil {
		fmt.Fprintf(&b, "|m=%d", *p.MaxDays)
	}
	for _, t := range []*time.Time{p.CohortDate, p.Date, p.CurrentDate, p.PreviousDate} {
		if t != nil {
			fmt.Fprintf(&b, "|%d", t.Unix())
		} else {
			b.WriteString("|-")
		}
	}
	fmt.Fprintf(&b, "|g=%s|metric=%s|funnel=%s|ev=%s|u=%s", p.AggregateBy, p.Metric, p.Funnel, p.EventName, p.UserID)
	return b.String()
}
