package query

import (
	"fmt"
	"math"
	"time"

	"pulse/internal/errs"
	"pulse/internal/metrics"
	"pulse/internal/timeframe"
)

var metricGrains = map[string]timeframe.Grain{
	"dau": timeframe.GrainDay,
	"wau": timeframe.GrainWeek,
	"mau": timeframe.GrainMonth,
}

// StickinessResult is DAU over MAU for one day.
type StickinessResult struct {
	Date              string  `json:"date"`
	DAU               int64   `json:"dau"`
	MAU               int64   `json:"mau"`
	StickinessPercent float64 `json:"stickiness_percent"`
}

// Stickiness divides the DAU of p.Date (today by default) by the MAU of its
// month. Unpublished periods count as 0.
func (s *Service) Stickiness(p Params) (*StickinessResult, error) {
	date := timeframe.StartOfDay(s.now())
	if p.Date != nil {
		date = timeframe.StartOfDay(*p.Date)
	}

	key := p
	key.Date = &date
	return cached(s, key.cacheKey("stickiness"), func() (*StickinessResult, error) {
		dau, err := s.periodTotal(timeframe.GrainDay, date)
		if err != nil {
			return nil, err
		}
		mau, err := s.periodTotal(timeframe.GrainMonth, date)
		if err != nil {
			return nil, err
		}
		return &StickinessResult{
			Date:              date.Format(timeframe.DateLayout),
			DAU:               dau.value,
			MAU:               mau.value,
			StickinessPercent: metrics.Stickiness(dau.value, mau.value),
		}, nil
	})
}

// GrowthResult compares one active-user metric between two periods.
type GrowthResult struct {
	Metric        string  `json:"metric"`
	CurrentDate   string  `json:"current_date"`
	PreviousDate  string  `json:"previous_date"`
	CurrentValue  int64   `json:"current_value"`
	PreviousValue int64   `json:"previous_value"`
	Change        int64   `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// Growth compares dau, wau or mau between the periods containing
// p.CurrentDate and p.PreviousDate. One missing period counts as 0; when both
// are missing there is nothing to compare.
func (s *Service) Growth(p Params) (*GrowthResult, error) {
	metric := p.Metric
	if metric == "" {
		metric = "dau"
	}
	grain, ok := metricGrains[metric]
	if !ok {
		return nil, errs.NewValidationError("metric", fmt.Sprintf("must be dau, wau or mau, got %q", metric))
	}
	if p.CurrentDate == nil {
		return nil, errs.NewValidationError("current_date", "is required")
	}
	if p.PreviousDate == nil {
		return nil, errs.NewValidationError("previous_date", "is required")
	}

	current := timeframe.PeriodStart(*p.CurrentDate, grain)
	previous := timeframe.PeriodStart(*p.PreviousDate, grain)

	key := p
	key.Metric = metric
	return cached(s, key.cacheKey("growth"), func() (*GrowthResult, error) {
		cur, err := s.periodTotal(grain, current)
		if err != nil {
			return nil, err
		}
		prev, err := s.periodTotal(grain, previous)
		if err != nil {
			return nil, err
		}
		if !cur.found && !prev.found {
			return nil, errs.NewNotFoundError(metric, fmt.Sprintf("%s and %s",
				current.Format(timeframe.DateLayout), previous.Format(timeframe.DateLayout)))
		}

		growth := metrics.GrowthRate(cur.value, prev.value)
		return &GrowthResult{
			Metric:        metric,
			CurrentDate:   current.Format(timeframe.DateLayout),
			PreviousDate:  previous.Format(timeframe.DateLayout),
			CurrentValue:  growth.Value,
			PreviousValue: prev.value,
			Change:        growth.Change,
			ChangePercent: growth.ChangePercent,
		}, nil
	})
}

type periodValue struct {
	value int64
	found bool
}

// periodTotal reads the active-user total of the grain period containing t.
func (s *Service) periodTotal(grain timeframe.Grain, t time.Time) (periodValue, error) {
	row, found, err := s.store.GetActiveUsers(grain, timeframe.PeriodStart(t, grain))
	if err != nil {
		return periodValue{}, err
	}
	if !found {
		return periodValue{}, nil
	}
	return periodValue{value: row.Total, found: true}, nil
}

// Engagement levels
const (
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

// EngagementResult describes how long sessions last and how engaged
// identified visitors are.
type EngagementResult struct {
	Sessions           int            `json:"sessions"`
	P50Seconds         float64        `json:"p50_session_duration_seconds"`
	P90Seconds         float64        `json:"p90_session_duration_seconds"`
	P95Seconds         float64        `json:"p95_session_duration_seconds"`
	Visitors           int            `json:"visitors"`
	AvgEngagementScore float64        `json:"avg_engagement_score"`
	Distribution       map[string]int `json:"distribution"`
}

// engagementLevel buckets a 0-100 engagement score.
func engagementLevel(score int) string {
	switch {
	case score >= 70:
		return EngagementHigh
	case score >= 40:
		return EngagementMedium
	}
	return EngagementLow
}

// Engagement computes session duration percentiles and scores every visitor
// with a session in the range. Recency is measured against the end of the
// range, or now when the range is open or still running.
func (s *Service) Engagement(p Params) (*EngagementResult, error) {
	reference := s.now()
	if p.Window != nil && p.Window.End.Before(reference) {
		reference = p.Window.End
	}

	return cached(s, p.cacheKey("engagement"), func() (*EngagementResult, error) {
		window := alignWindow(p.Window, timeframe.GrainDay)

		durations, err := s.store.SessionDurations(window)
		if err != nil {
			return nil, err
		}
		visitors, err := s.store.SessionsByIdentity(window)
		if err != nil {
			return nil, err
		}

		result := &EngagementResult{
			Sessions:   len(durations),
			P50Seconds: metrics.Percentile(durations, 50),
			P90Seconds: metrics.Percentile(durations, 90),
			P95Seconds: metrics.Percentile(durations, 95),
			Visitors:   len(visitors),
			Distribution: map[string]int{
				EngagementLow:    0,
				EngagementMedium: 0,
				EngagementHigh:   0,
			},
		}

		var total int
		for _, v := range visitors {
			days := reference.Sub(v.LastSessionAt).Hours() / 24
			score := metrics.EngagementScore(v.SessionCount, v.AvgDurationSeconds, math.Floor(days))
			total += score
			result.Distribution[engagementLevel(score)]++
		}
		if len(visitors) > 0 {
			result.AvgEngagementScore = metrics.Round2(float64(total) / float64(len(visitors)))
		}
		return result, nil
	})
}
