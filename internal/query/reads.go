package query

import (
	"context"
	"fmt"
	"time"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/events"
	"pulse/internal/metrics"
	"pulse/internal/pkg/referrers"
	"pulse/internal/timeframe"
)

// alignWindow widens the window start to the beginning of its grain period,
// so a range starting mid-week still includes that week.
func alignWindow(w *timeframe.Window, grain timeframe.Grain) *timeframe.Window {
	if w == nil {
		return nil
	}
	aligned := w.Expand(grain)
	return &aligned
}

// DailyActiveUsers lists daily active users, newest day first.
func (s *Service) DailyActiveUsers(p Params) ([]analytics.ActiveUserStat, error) {
	return s.activeUsers(timeframe.GrainDay, p, DefaultDAULimit)
}

// WeeklyActiveUsers lists weekly active users, newest week first.
func (s *Service) WeeklyActiveUsers(p Params) ([]analytics.ActiveUserStat, error) {
	return s.activeUsers(timeframe.GrainWeek, p, DefaultWAULimit)
}

// MonthlyActiveUsers lists monthly active users, newest month first.
func (s *Service) MonthlyActiveUsers(p Params) ([]analytics.ActiveUserStat, error) {
	return s.activeUsers(timeframe.GrainMonth, p, DefaultMAULimit)
}

func (s *Service) activeUsers(grain timeframe.Grain, p Params, defaultLimit int) ([]analytics.ActiveUserStat, error) {
	limit := p.LimitOr(defaultLimit)
	if limit == 0 {
		return []analytics.ActiveUserStat{}, nil
	}
	return cached(s, p.cacheKey("active:"+string(grain)), func() ([]analytics.ActiveUserStat, error) {
		rows, err := s.store.ListActiveUsers(grain, alignWindow(p.Window, grain), limit)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []analytics.ActiveUserStat{}
		}
		return rows, nil
	})
}

// SessionsResult holds either per-period session rollups or raw session
// facts, depending on whether grain aggregation is enabled.
type SessionsResult struct {
	AggregateBy timeframe.Grain               `json:"aggregate_by"`
	Aggregated  bool                          `json:"aggregated"`
	Periods     []analytics.SessionPeriodStat `json:"periods,omitempty"`
	Facts       []analytics.SessionFact       `json:"sessions,omitempty"`
}

// Count returns the number of rows in the result.
func (r *SessionsResult) Count() int {
	if r.Aggregated {
		return len(r.Periods)
	}
	return len(r.Facts)
}

// Data returns the rows in the result.
func (r *SessionsResult) Data() any {
	if r.Aggregated {
		return r.Periods
	}
	return r.Facts
}

// Sessions summarizes sessions by p.AggregateBy, or lists the raw session
// facts when grain aggregation is disabled.
func (s *Service) Sessions(p Params) (*SessionsResult, error) {
	limit := p.LimitOr(DefaultSessionsLimit)
	return cached(s, p.cacheKey("sessions"), func() (*SessionsResult, error) {
		result := &SessionsResult{AggregateBy: p.AggregateBy, Aggregated: s.opts.SessionGrainAggregation}
		if limit == 0 {
			result.Periods = []analytics.SessionPeriodStat{}
			result.Facts = []analytics.SessionFact{}
			return result, nil
		}

		if s.opts.SessionGrainAggregation {
			periods, err := s.store.AggregateSessions(p.AggregateBy, alignWindow(p.Window, p.AggregateBy), limit)
			if err != nil {
				return nil, err
			}
			result.Periods = periods
			return result, nil
		}

		facts, err := s.store.ListSessionFacts(alignWindow(p.Window, timeframe.GrainDay), limit)
		if err != nil {
			return nil, err
		}
		if facts == nil {
			facts = []analytics.SessionFact{}
		}
		result.Facts = facts
		return result, nil
	})
}

// Retention lists retention entries, newest cohort first. An unknown cohort
// date yields no rows.
func (s *Service) Retention(p Params) ([]analytics.RetentionCohort, error) {
	limit := p.LimitOr(DefaultRetentionLimit)
	if limit == 0 {
		return []analytics.RetentionCohort{}, nil
	}
	return cached(s, p.cacheKey("retention"), func() ([]analytics.RetentionCohort, error) {
		rows, err := s.store.ListRetention(p.CohortDate, p.MaxDaysOr(DefaultMaxDays), limit)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []analytics.RetentionCohort{}
		}
		return rows, nil
	})
}

// RetentionCurveResult is a retention curve indexed by day offset.
type RetentionCurveResult struct {
	CohortDate *string   `json:"cohort_date"`
	MaxDays    int       `json:"max_days"`
	Cohorts    int       `json:"cohorts"`
	Curve      []float64 `json:"curve"`
}

// RetentionCurve returns the retention curve of one cohort, or the
// size-weighted curve across all cohorts when no cohort date is given.
func (s *Service) RetentionCurve(p Params) (*RetentionCurveResult, error) {
	maxDays := p.MaxDaysOr(DefaultMaxDays)
	return cached(s, p.cacheKey("retention-curve"), func() (*RetentionCurveResult, error) {
		rows, err := s.store.ListRetention(p.CohortDate, maxDays, 0)
		if err != nil {
			return nil, err
		}

		type sums struct{ size, retained int64 }
		byDay := make(map[int]*sums)
		cohorts := make(map[time.Time]struct{})
		for _, r := range rows {
			cohorts[r.CohortDate] = struct{}{}
			acc, ok := byDay[r.DaysSinceCohort]
			if !ok {
				acc = &sums{}
				byDay[r.DaysSinceCohort] = acc
			}
			acc.size += r.CohortSize
			acc.retained += r.RetainedUsers
		}

		points := make([]metrics.CurvePoint, 0, len(byDay))
		for day, acc := range byDay {
			points = append(points, metrics.CurvePoint{
				DaysSinceCohort: day,
				RetentionRate:   metrics.RetentionRate(acc.size, acc.retained),
			})
		}

		result := &RetentionCurveResult{
			MaxDays: maxDays,
			Cohorts: len(cohorts),
			Curve:   metrics.RetentionCurve(points, maxDays),
		}
		if p.CohortDate != nil {
			date := p.CohortDate.Format(timeframe.DateLayout)
			result.CohortDate = &date
		}
		return result, nil
	})
}

// FunnelResult is a funnel summed over a range of days.
type FunnelResult struct {
	Funnel string                  `json:"funnel"`
	Steps  []aggregator.FunnelStep `json:"steps"`
}

// Funnel sums the named funnel (the first configured one by default) over
// the requested range. A funnel that is neither configured nor published
// has no steps.
func (s *Service) Funnel(p Params) (*FunnelResult, error) {
	name := p.Funnel
	if name == "" && len(s.opts.Funnels) > 0 {
		name = s.opts.Funnels[0].Name
	}

	return cached(s, p.cacheKey("funnel"), func() (*FunnelResult, error) {
		totals, err := s.store.SumFunnel(name, alignWindow(p.Window, timeframe.GrainDay))
		if err != nil {
			return nil, err
		}

		def, configured := s.funnelDefinition(name)
		if !configured {
			if len(totals) == 0 {
				return &FunnelResult{Funnel: name, Steps: []aggregator.FunnelStep{}}, nil
			}
			def = aggregator.FunnelDefinition{Name: name}
			for _, t := range totals {
				def.Steps = append(def.Steps, aggregator.FunnelStepDefinition{Name: t.StepName})
			}
		}

		reached := make([]int64, len(def.Steps))
		for _, t := range totals {
			if t.StepNumber >= 1 && t.StepNumber <= len(reached) {
				reached[t.StepNumber-1] = t.SessionsReached
			}
		}
		return &FunnelResult{Funnel: name, Steps: aggregator.BuildFunnelSteps(def, reached)}, nil
	})
}

func (s *Service) funnelDefinition(name string) (aggregator.FunnelDefinition, bool) {
	for _, def := range s.opts.Funnels {
		if def.Name == name {
			return def, true
		}
	}
	return aggregator.FunnelDefinition{}, false
}

// TopEvent is one row of the top events ranking.
type TopEvent struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

// TopPage is one row of the top pages ranking.
type TopPage struct {
	PagePath string `json:"page_path"`
	Views    int64  `json:"views"`
}

// TopCountry is one row of the top countries ranking.
type TopCountry struct {
	Code    string `json:"code"`
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

func (s *Service) rank(dimension string, p Params) ([]aggregator.RankedEntry, error) {
	limit := p.LimitOr(DefaultTopLimit)
	if limit == 0 {
		return []aggregator.RankedEntry{}, nil
	}
	return cached(s, p.cacheKey("top:"+dimension), func() ([]aggregator.RankedEntry, error) {
		candidates, err := s.store.SumRanking(dimension, alignWindow(p.Window, timeframe.GrainDay))
		if err != nil {
			return nil, err
		}
		items := make([]aggregator.RankItem, len(candidates))
		for i, c := range candidates {
			items[i] = aggregator.RankItem{
				Name:         c.Name,
				Count:        c.Count,
				FirstSeenAt:  c.FirstSeenAt,
				FirstSeenSeq: c.FirstSeenSeq,
			}
		}
		return aggregator.Rank(items, limit), nil
	})
}

// TopEvents ranks event names by occurrences.
func (s *Service) TopEvents(p Params) ([]TopEvent, error) {
	ranked, err := s.rank(analytics.DimensionEvent, p)
	if err != nil {
		return nil, err
	}
	rows := make([]TopEvent, len(ranked))
	for i, r := range ranked {
		rows[i] = TopEvent{EventName: r.Name, Count: r.Count}
	}
	return rows, nil
}

// TopPages ranks page paths by page views.
func (s *Service) TopPages(p Params) ([]TopPage, error) {
	ranked, err := s.rank(analytics.DimensionPage, p)
	if err != nil {
		return nil, err
	}
	rows := make([]TopPage, len(ranked))
	for i, r := range ranked {
		rows[i] = TopPage{PagePath: r.Name, Views: r.Count}
	}
	return rows, nil
}

// TopCountries ranks countries by events, with display names.
func (s *Service) TopCountries(p Params) ([]TopCountry, error) {
	ranked, err := s.rank(analytics.DimensionCountry, p)
	if err != nil {
		return nil, err
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()
	rows := make([]TopCountry, len(ranked))
	for i, r := range ranked {
		rows[i] = TopCountry{Code: r.Name, Country: caser.String(r.Name), Count: r.Count}
		if country, err := countries.FindCountryByAlpha(r.Name); err == nil {
			rows[i].Country = country.Name.Common
		}
	}
	return rows, nil
}

// TopReferrer is one row of the top referrers ranking.
type TopReferrer struct {
	Source string `json:"source"`
	Events int64  `json:"events"`
}

// TopReferrers ranks traffic sources by events. Referrer URLs are read from
// the log and merged by site, so www and mobile hosts count together.
func (s *Service) TopReferrers(ctx context.Context, p Params) ([]TopReferrer, error) {
	limit := p.LimitOr(DefaultTopLimit)
	if limit == 0 {
		return []TopReferrer{}, nil
	}
	return cached(s, p.cacheKey("top:referrer"), func() ([]TopReferrer, error) {
		var from, to time.Time
		if p.Window != nil {
			from, to = p.Window.Start, p.Window.End
		}
		counts, err := events.CountReferrers(ctx, s.db, from, to)
		if err != nil {
			return nil, err
		}

		bySource := make(map[string]int)
		var items []aggregator.RankItem
		for _, c := range counts {
			source := referrers.Source(c.Referrer)
			if source == "" {
				continue
			}
			i, ok := bySource[source]
			if !ok {
				i = len(items)
				bySource[source] = i
				items = append(items, aggregator.RankItem{Name: source, FirstSeenSeq: c.FirstSeq})
			}
			items[i].Count += c.Events
			items[i].FirstSeenSeq = min(items[i].FirstSeenSeq, c.FirstSeq)
		}

		ranked := aggregator.Rank(items, limit)
		rows := make([]TopReferrer, len(ranked))
		for i, r := range ranked {
			rows[i] = TopReferrer{Source: r.Name, Events: r.Count}
		}
		return rows, nil
	})
}

// Events lists raw events newest first. Raw reads bypass the cache.
func (s *Service) Events(p Params) ([]events.RawEvent, error) {
	filters := events.EventFilters{
		EventName: p.EventName,
		UserID:    p.UserID,
		Limit:     p.LimitOr(DefaultEventsLimit),
	}
	if filters.Limit == 0 {
		return []events.RawEvent{}, nil
	}
	if p.Window != nil {
		filters.Start = p.Window.Start
		filters.End = p.Window.End
	}
	rows, err := events.GetFilteredEvents(s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	if rows == nil {
		rows = []events.RawEvent{}
	}
	return rows, nil
}
