package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"pulse/internal/analytics"
	"pulse/internal/events"
	"pulse/internal/metrics"
	"pulse/internal/pkg/async"
	"pulse/internal/timeframe"
)

// DateRange echoes the range an overview covers.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// OverviewResult is the dashboard summary. DateRange is either a DateRange
// or the string "all_time".
type OverviewResult struct {
	TotalEvents               int64   `json:"total_events"`
	TotalSessions             int64   `json:"total_sessions"`
	TotalUsers                int64   `json:"total_users"`
	LatestDAU                 int64   `json:"latest_dau"`
	LatestMAU                 int64   `json:"latest_mau"`
	AvgSessionDurationSeconds int64   `json:"avg_session_duration_seconds"`
	AvgSessionDuration        string  `json:"avg_session_duration"`
	BounceRate                float64 `json:"bounce_rate"`
	DateRange                 any     `json:"date_range"`
}

// overviewReads holds the independent reads behind an overview. Each task
// writes only its own field.
type overviewReads struct {
	events     int64
	identities int64
	sessions   analytics.SessionTotals
	dau        int64
	mau        int64
}

// Overview summarizes the log and the published tables. The reads run in
// parallel on the service pool and the first failing one fails the overview.
func (s *Service) Overview(ctx context.Context, p Params) (*OverviewResult, error) {
	return cached(s, p.cacheKey("overview"), func() (*OverviewResult, error) {
		var from, to time.Time
		if p.Window != nil {
			from, to = p.Window.Start, p.Window.End
		}
		window := alignWindow(p.Window, timeframe.GrainDay)

		var reads overviewReads
		tasks := []async.Task[struct{}]{
			{Name: "events", Execute: func(ctx context.Context) (struct{}, error) {
				var err error
				reads.events, err = events.CountEvents(s.db.WithContext(ctx), from, to)
				return struct{}{}, err
			}},
			{Name: "identities", Execute: func(ctx context.Context) (struct{}, error) {
				var err error
				reads.identities, err = events.CountIdentities(ctx, s.db, from, to)
				return struct{}{}, err
			}},
			{Name: "sessions", Execute: func(context.Context) (struct{}, error) {
				var err error
				reads.sessions, err = s.store.GetSessionTotals(window)
				return struct{}{}, err
			}},
			{Name: "dau", Execute: func(context.Context) (struct{}, error) {
				var err error
				reads.dau, err = s.latestTotal(timeframe.GrainDay)
				return struct{}{}, err
			}},
			{Name: "mau", Execute: func(context.Context) (struct{}, error) {
				var err error
				reads.mau, err = s.latestTotal(timeframe.GrainMonth)
				return struct{}{}, err
			}},
		}

		results := async.Execute(ctx, s.pool, tasks)
		for _, task := range tasks {
			if err := results[task.Name].Err; err != nil {
				return nil, fmt.Errorf("overview %s: %w", task.Name, err)
			}
		}

		avg := int64(math.Round(reads.sessions.AvgDurationSeconds))
		ov := &OverviewResult{
			TotalEvents:               reads.events,
			TotalSessions:             reads.sessions.Sessions,
			TotalUsers:                reads.identities,
			LatestDAU:                 reads.dau,
			LatestMAU:                 reads.mau,
			AvgSessionDurationSeconds: avg,
			AvgSessionDuration:        metrics.FormatSessionDuration(avg),
			BounceRate:                metrics.BounceRate(reads.sessions.Sessions, reads.sessions.Bounces),
			DateRange:                 "all_time",
		}
		if p.Window != nil {
			ov.DateRange = DateRange{
				StartDate: p.Window.Start.Format(timeframe.DateLayout),
				EndDate:   p.Window.End.Add(-time.Nanosecond).Format(timeframe.DateLayout),
			}
		}
		return ov, nil
	})
}

// latestTotal returns the newest published active-user total of a grain,
// 0 when nothing is published yet.
func (s *Service) latestTotal(grain timeframe.Grain) (int64, error) {
	row, found, err := s.store.LatestActiveUsers(grain)
	if err != nil || !found {
		return 0, err
	}
	return row.Total, nil
}
