package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/errs"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/query"
	"pulse/internal/testsupport"
	"pulse/internal/timeframe"
)

var (
	jan1 = testsupport.Date(2025, 1, 1)
	jan2 = testsupport.Date(2025, 1, 2)
	jan3 = testsupport.Date(2025, 1, 3)
)

type fixture struct {
	db      *gorm.DB
	store   *analytics.Store
	service *query.Service
}

func setup(t *testing.T, opts query.Options) *fixture {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &timeframe.FixedTimeProvider{At: testsupport.At(2025, 1, 10, 12, 0)}
	}
	return &fixture{
		db:      db,
		store:   analytics.NewStore(db, logger),
		service: query.NewService(db, logger, opts),
	}
}

func (f *fixture) publish(t *testing.T, pub analytics.Publication) {
	t.Helper()
	pub.Pass = analytics.AggregationPass{
		PassID:      uuid.NewString(),
		WindowStart: jan1,
		WindowEnd:   jan3,
		AsOf:        jan3,
		Families:    "test",
	}
	require.NoError(t, f.store.Publish(context.Background(), &pub))
}

func activeUsers(grain timeframe.Grain, start time.Time, total int64) analytics.ActiveUserStat {
	return analytics.ActiveUserStat{Grain: string(grain), PeriodStart: start, Total: total, Identified: total, Final: true}
}

func session(id, identityKey string, start time.Time, duration int64, bounce bool) analytics.SessionFact {
	return analytics.SessionFact{
		SessionID:       id,
		IdentityKey:     identityKey,
		SessionDate:     timeframe.StartOfDay(start),
		StartedAt:       start,
		EndedAt:         start.Add(time.Duration(duration) * time.Second),
		DurationSeconds: duration,
		EventCount:      2,
		PageViews:       1,
		IsBounce:        bounce,
		Final:           true,
	}
}

func params(t *testing.T, values map[string]string) query.Params {
	t.Helper()
	p, err := query.ParseParams(values)
	require.NoError(t, err)
	return p
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr string
	}{
		{name: "empty", values: map[string]string{}},
		{name: "full range", values: map[string]string{"start_date": "2025-01-01", "end_date": "2025-01-31", "limit": "5"}},
		{name: "only start", values: map[string]string{"start_date": "2025-01-01"}},
		{name: "bad date", values: map[string]string{"start_date": "01/01/2025"}, wantErr: "start_date"},
		{name: "end before start", values: map[string]string{"start_date": "2025-02-01", "end_date": "2025-01-01"}, wantErr: "end_date"},
		{name: "non numeric limit", values: map[string]string{"limit": "ten"}, wantErr: "limit"},
		{name: "negative limit", values: map[string]string{"limit": "-1"}, wantErr: "limit"},
		{name: "negative max days", values: map[string]string{"max_days": "-3"}, wantErr: "max_days"},
		{name: "bad cohort date", values: map[string]string{"cohort_date": "yesterday"}, wantErr: "cohort_date"},
		{name: "bad grain", values: map[string]string{"aggregate_by": "year"}, wantErr: "aggregate_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.ParseParams(tt.values)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseParamsDefaults(t *testing.T) {
	p := params(t, map[string]string{"end_date": "2025-01-31"})

	require.NotNil(t, p.Window)
	assert.Equal(t, testsupport.Date(2025, 2, 1), p.Window.End, "end date is inclusive")
	assert.Equal(t, timeframe.GrainDay, p.AggregateBy)
	assert.Equal(t, 30, p.LimitOr(30))
	assert.Equal(t, query.DefaultMaxDays, p.MaxDaysOr(query.DefaultMaxDays))
}

func TestActiveUsers(t *testing.T) {
	f := setup(t, query.Options{})
	f.publish(t, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{
		activeUsers(timeframe.GrainDay, jan1, 3),
		activeUsers(timeframe.GrainDay, jan2, 5),
		activeUsers(timeframe.GrainDay, jan3, 4),
		activeUsers(timeframe.GrainWeek, testsupport.Date(2024, 12, 30), 7),
		activeUsers(timeframe.GrainMonth, jan1, 9),
	}})

	t.Run("newest first", func(t *testing.T) {
		rows, err := f.service.DailyActiveUsers(params(t, nil))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.True(t, rows[0].PeriodStart.Equal(jan3))
		assert.Equal(t, int64(4), rows[0].Total)
	})

	t.Run("range and limit", func(t *testing.T) {
		rows, err := f.service.DailyActiveUsers(params(t, map[string]string{
			"start_date": "2025-01-01", "end_date": "2025-01-02", "limit": "1",
		}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(5), rows[0].Total)
	})

	t.Run("zero limit", func(t *testing.T) {
		rows, err := f.service.DailyActiveUsers(params(t, map[string]string{"limit": "0"}))
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("week containing the range start", func(t *testing.T) {
		rows, err := f.service.WeeklyActiveUsers(params(t, map[string]string{"start_date": "2025-01-01"}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(7), rows[0].Total)
	})

	t.Run("monthly", func(t *testing.T) {
		rows, err := f.service.MonthlyActiveUsers(params(t, nil))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(9), rows[0].Total)
	})
}

func TestSessions(t *testing.T) {
	facts := []analytics.SessionFact{
		session("s1", "u:1", jan1.Add(9*time.Hour), 120, false),
		session("s2", "u:2", jan1.Add(10*time.Hour), 0, true),
		session("s3", "u:1", jan2.Add(9*time.Hour), 60, false),
	}

	t.Run("aggregated by day", func(t *testing.T) {
		f := setup(t, query.Options{SessionGrainAggregation: true})
		f.publish(t, analytics.Publication{Sessions: facts})

		result, err := f.service.Sessions(params(t, nil))
		require.NoError(t, err)
		assert.True(t, result.Aggregated)
		require.Len(t, result.Periods, 2)
		assert.True(t, result.Periods[0].PeriodStart.Equal(jan2))
		assert.Equal(t, int64(2), result.Periods[1].Sessions)
		assert.Equal(t, int64(1), result.Periods[1].Bounces)
		assert.Equal(t, 60.0, result.Periods[1].AvgDurationSeconds)
		assert.Equal(t, 2, result.Count())
	})

	t.Run("aggregated by month", func(t *testing.T) {
		f := setup(t, query.Options{SessionGrainAggregation: true})
		f.publish(t, analytics.Publication{Sessions: facts})

		result, err := f.service.Sessions(params(t, map[string]string{"aggregate_by": "month"}))
		require.NoError(t, err)
		require.Len(t, result.Periods, 1)
		assert.Equal(t, int64(3), result.Periods[0].Sessions)
	})

	t.Run("raw facts when aggregation is disabled", func(t *testing.T) {
		f := setup(t, query.Options{SessionGrainAggregation: false})
		f.publish(t, analytics.Publication{Sessions: facts})

		result, err := f.service.Sessions(params(t, nil))
		require.NoError(t, err)
		assert.False(t, result.Aggregated)
		require.Len(t, result.Facts, 3)
		assert.Equal(t, "s3", result.Facts[0].SessionID)
	})
}

func TestRetention(t *testing.T) {
	f := setup(t, query.Options{})
	f.publish(t, analytics.Publication{Retention: []analytics.RetentionCohort{
		{CohortDate: jan1, DaysSinceCohort: 0, CohortSize: 4, RetainedUsers: 4, RetentionRate: 100},
		{CohortDate: jan1, DaysSinceCohort: 1, CohortSize: 4, RetainedUsers: 1, RetentionRate: 25},
		{CohortDate: jan2, DaysSinceCohort: 0, CohortSize: 1, RetainedUsers: 1, RetentionRate: 100},
		{CohortDate: jan2, DaysSinceCohort: 1, CohortSize: 1, RetainedUsers: 1, RetentionRate: 100},
	}})

	t.Run("newest cohort first", func(t *testing.T) {
		rows, err := f.service.Retention(params(t, nil))
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.True(t, rows[0].CohortDate.Equal(jan2))
		assert.Equal(t, 0, rows[0].DaysSinceCohort)
	})

	t.Run("single cohort and max days", func(t *testing.T) {
		rows, err := f.service.Retention(params(t, map[string]string{"cohort_date": "2025-01-01", "max_days": "0"}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(4), rows[0].CohortSize)
	})

	t.Run("unknown cohort is empty", func(t *testing.T) {
		rows, err := f.service.Retention(params(t, map[string]string{"cohort_date": "2024-06-01"}))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("curve weights cohorts by size", func(t *testing.T) {
		curve, err := f.service.RetentionCurve(params(t, map[string]string{"max_days": "2"}))
		require.NoError(t, err)
		assert.Equal(t, 2, curve.Cohorts)
		assert.Nil(t, curve.CohortDate)
		assert.Equal(t, []float64{100, 40, 0}, curve.Curve)
	})

	t.Run("curve of one cohort", func(t *testing.T) {
		curve, err := f.service.RetentionCurve(params(t, map[string]string{"cohort_date": "2025-01-01", "max_days": "1"}))
		require.NoError(t, err)
		require.NotNil(t, curve.CohortDate)
		assert.Equal(t, "2025-01-01", *curve.CohortDate)
		assert.Equal(t, []float64{100, 25}, curve.Curve)
	})
}

func TestFunnel(t *testing.T) {
	signup := aggregator.FunnelDefinition{Name: "signup", Steps: []aggregator.FunnelStepDefinition{
		{Name: "Visit", EventName: "page_view"},
		{Name: "Start", EventName: "signup_started"},
		{Name: "Finish", EventName: "signup_completed"},
	}}
	f := setup(t, query.Options{Funnels: []aggregator.FunnelDefinition{signup}})

	steps := func(funnel string, day time.Time, reached ...int64) []analytics.FunnelStepStat {
		rows := make([]analytics.FunnelStepStat, len(reached))
		for i, n := range reached {
			rows[i] = analytics.FunnelStepStat{Funnel: funnel, Day: day, StepNumber: i + 1, StepName: funnel + "-step", SessionsReached: n, Final: true}
		}
		return rows
	}
	var rows []analytics.FunnelStepStat
	rows = append(rows, steps("signup", jan1, 10, 5, 2)...)
	rows = append(rows, steps("signup", jan2, 10, 3, 1)...)
	rows = append(rows, steps("legacy", jan1, 4, 1)...)
	f.publish(t, analytics.Publication{FunnelSteps: rows})

	t.Run("sums days of the default funnel", func(t *testing.T) {
		result, err := f.service.Funnel(params(t, nil))
		require.NoError(t, err)
		assert.Equal(t, "signup", result.Funnel)
		require.Len(t, result.Steps, 3)
		assert.Equal(t, "Visit", result.Steps[0].StepName)
		assert.Equal(t, int64(20), result.Steps[0].SessionsReached)
		assert.Nil(t, result.Steps[0].ConversionRate)
		require.NotNil(t, result.Steps[1].ConversionRate)
		assert.Equal(t, 40.0, *result.Steps[1].ConversionRate)
		assert.Equal(t, 37.5, *result.Steps[2].ConversionRate)
	})

	t.Run("range", func(t *testing.T) {
		result, err := f.service.Funnel(params(t, map[string]string{"start_date": "2025-01-02", "end_date": "2025-01-02"}))
		require.NoError(t, err)
		assert.Equal(t, int64(10), result.Steps[0].SessionsReached)
		assert.Equal(t, int64(1), result.Steps[2].SessionsReached)
	})

	t.Run("published funnel without definition", func(t *testing.T) {
		result, err := f.service.Funnel(params(t, map[string]string{"funnel": "legacy"}))
		require.NoError(t, err)
		require.Len(t, result.Steps, 2)
		assert.Equal(t, "legacy-step", result.Steps[0].StepName)
		assert.Equal(t, 25.0, *result.Steps[1].ConversionRate)
	})

	t.Run("unknown funnel", func(t *testing.T) {
		result, err := f.service.Funnel(params(t, map[string]string{"funnel": "checkout"}))
		require.NoError(t, err)
		assert.Equal(t, "checkout", result.Funnel)
		assert.NotNil(t, result.Steps)
		assert.Empty(t, result.Steps)
	})
}

func TestTopLists(t *testing.T) {
	f := setup(t, query.Options{})
	ranking := func(dimension, name string, day time.Time, count int64, seq uint) analytics.RankingStat {
		return analytics.RankingStat{Day: day, Dimension: dimension, Name: name, Count: count, FirstSeenAt: day.Add(time.Hour), FirstSeenSeq: seq, Final: true}
	}
	f.publish(t, analytics.Publication{Rankings: []analytics.RankingStat{
		ranking(analytics.DimensionEvent, "page_view", jan1, 5, 1),
		ranking(analytics.DimensionEvent, "click", jan1, 2, 2),
		ranking(analytics.DimensionEvent, "click", jan2, 3, 7),
		ranking(analytics.DimensionEvent, "signup", jan2, 5, 8),
		ranking(analytics.DimensionPage, "/", jan1, 4, 1),
		ranking(analytics.DimensionPage, "/pricing", jan2, 1, 9),
		ranking(analytics.DimensionCountry, "US", jan1, 3, 1),
		ranking(analytics.DimensionCountry, "zz", jan1, 1, 2),
	}})

	t.Run("events with first-seen tie break", func(t *testing.T) {
		rows, err := f.service.TopEvents(params(t, nil))
		require.NoError(t, err)
		assert.Equal(t, []query.TopEvent{
			{EventName: "page_view", Count: 5},
			{EventName: "click", Count: 5},
			{EventName: "signup", Count: 5},
		}, rows)
	})

	t.Run("events limited to a day", func(t *testing.T) {
		rows, err := f.service.TopEvents(params(t, map[string]string{"start_date": "2025-01-02", "end_date": "2025-01-02", "limit": "1"}))
		require.NoError(t, err)
		assert.Equal(t, []query.TopEvent{{EventName: "signup", Count: 5}}, rows)
	})

	t.Run("pages", func(t *testing.T) {
		rows, err := f.service.TopPages(params(t, nil))
		require.NoError(t, err)
		assert.Equal(t, []query.TopPage{{PagePath: "/", Views: 4}, {PagePath: "/pricing", Views: 1}}, rows)
	})

	t.Run("countries with display names", func(t *testing.T) {
		rows, err := f.service.TopCountries(params(t, nil))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, query.TopCountry{Code: "US", Country: "United States", Count: 3}, rows[0])
		assert.Equal(t, "ZZ", rows[1].Country, "unknown codes fall back to upper case")
	})

	t.Run("zero limit", func(t *testing.T) {
		rows, err := f.service.TopPages(params(t, map[string]string{"limit": "0"}))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestEvents(t *testing.T) {
	f := setup(t, query.Options{})
	testsupport.InsertEvents(t, f.db,
		testsupport.PageView("/", jan1.Add(time.Hour)).User("u1"),
		testsupport.NewEvent("click", jan1.Add(2*time.Hour)).User("u1"),
		testsupport.PageView("/", jan2.Add(time.Hour)).User("u2"),
	)

	rows, err := f.service.Events(params(t, map[string]string{"user_id": "u1"}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "click", rows[0].EventName)

	rows, err = f.service.Events(params(t, map[string]string{"end_date": "2025-01-01", "event_name": "page_view"}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", *rows[0].UserID)
}

func TestOverview(t *testing.T) {
	f := setup(t, query.Options{})
	testsupport.InsertEvents(t, f.db,
		testsupport.PageView("/", jan1.Add(time.Hour)).Anonymous("a1"),
		testsupport.PageView("/", jan1.Add(2*time.Hour)).Anonymous("a1").User("u1"),
		testsupport.PageView("/", jan2.Add(time.Hour)).User("u2"),
	)
	f.publish(t, analytics.Publication{
		ActiveUsers: []analytics.ActiveUserStat{
			activeUsers(timeframe.GrainDay, jan1, 1),
			activeUsers(timeframe.GrainDay, jan2, 2),
			activeUsers(timeframe.GrainMonth, jan1, 2),
		},
		Sessions: []analytics.SessionFact{
			session("s1", "u:u1", jan1.Add(time.Hour), 90, false),
			session("s2", "u:u2", jan2.Add(time.Hour), 0, true),
		},
	})

	t.Run("all time", func(t *testing.T) {
		ov, err := f.service.Overview(context.Background(), params(t, nil))
		require.NoError(t, err)
		assert.Equal(t, int64(3), ov.TotalEvents)
		assert.Equal(t, int64(2), ov.TotalUsers, "linked anonymous id counts once")
		assert.Equal(t, int64(2), ov.TotalSessions)
		assert.Equal(t, int64(2), ov.LatestDAU)
		assert.Equal(t, int64(2), ov.LatestMAU)
		assert.Equal(t, int64(45), ov.AvgSessionDurationSeconds)
		assert.Equal(t, "0m 45s", ov.AvgSessionDuration)
		assert.Equal(t, 50.0, ov.BounceRate)
		assert.Equal(t, "all_time", ov.DateRange)
	})

	t.Run("range", func(t *testing.T) {
		ov, err := f.service.Overview(context.Background(), params(t, map[string]string{"start_date": "2025-01-02", "end_date": "2025-01-02"}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), ov.TotalEvents)
		assert.Equal(t, int64(1), ov.TotalUsers)
		assert.Equal(t, int64(1), ov.TotalSessions)
		assert.Equal(t, 100.0, ov.BounceRate)
		assert.Equal(t, query.DateRange{StartDate: "2025-01-02", EndDate: "2025-01-02"}, ov.DateRange)
	})
}

func TestStickiness(t *testing.T) {
	f := setup(t, query.Options{TimeProvider: &timeframe.FixedTimeProvider{At: jan2.Add(15 * time.Hour)}})
	f.publish(t, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{
		activeUsers(timeframe.GrainDay, jan1, 1),
		activeUsers(timeframe.GrainDay, jan2, 3),
		activeUsers(timeframe.GrainMonth, jan1, 8),
	}})

	tests := []struct {
		name   string
		values map[string]string
		want   query.StickinessResult
	}{
		{name: "today by default", values: nil, want: query.StickinessResult{Date: "2025-01-02", DAU: 3, MAU: 8, StickinessPercent: 37.5}},
		{name: "given date", values: map[string]string{"date": "2025-01-01"}, want: query.StickinessResult{Date: "2025-01-01", DAU: 1, MAU: 8, StickinessPercent: 12.5}},
		{name: "nothing published", values: map[string]string{"date": "2025-03-01"}, want: query.StickinessResult{Date: "2025-03-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.service.Stickiness(params(t, tt.values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestGrowth(t *testing.T) {
	f := setup(t, query.Options{})
	f.publish(t, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{
		activeUsers(timeframe.GrainDay, jan1, 4),
		activeUsers(timeframe.GrainDay, jan2, 6),
		activeUsers(timeframe.GrainWeek, testsupport.Date(2024, 12, 30), 10),
	}})

	t.Run("day over day", func(t *testing.T) {
		got, err := f.service.Growth(params(t, map[string]string{"current_date": "2025-01-02", "previous_date": "2025-01-01"}))
		require.NoError(t, err)
		assert.Equal(t, query.GrowthResult{
			Metric: "dau", CurrentDate: "2025-01-02", PreviousDate: "2025-01-01",
			CurrentValue: 6, PreviousValue: 4, Change: 2, ChangePercent: 50,
		}, *got)
	})

	t.Run("dates normalize to the period start", func(t *testing.T) {
		got, err := f.service.Growth(params(t, map[string]string{"metric": "wau", "current_date": "2025-01-03", "previous_date": "2024-12-25"}))
		require.NoError(t, err)
		assert.Equal(t, "2024-12-30", got.CurrentDate)
		assert.Equal(t, "2024-12-23", got.PreviousDate)
		assert.Equal(t, int64(10), got.CurrentValue)
		assert.Equal(t, int64(0), got.PreviousValue)
		assert.Equal(t, 0.0, got.ChangePercent)
	})

	t.Run("both periods missing", func(t *testing.T) {
		_, err := f.service.Growth(params(t, map[string]string{"metric": "mau", "current_date": "2025-01-02", "previous_date": "2024-12-01"}))
		require.Error(t, err)
		assert.True(t, errs.IsNotFound(err))
	})

	invalid := []struct {
		name   string
		values map[string]string
	}{
		{name: "unknown metric", values: map[string]string{"metric": "yau", "current_date": "2025-01-02", "previous_date": "2025-01-01"}},
		{name: "missing current", values: map[string]string{"previous_date": "2025-01-01"}},
		{name: "missing previous", values: map[string]string{"current_date": "2025-01-01"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Growth(params(t, tt.values))
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestEngagement(t *testing.T) {
	f := setup(t, query.Options{TimeProvider: &timeframe.FixedTimeProvider{At: jan3}})
	f.publish(t, analytics.Publication{Sessions: []analytics.SessionFact{
		session("s1", "u:1", jan1.Add(time.Hour), 100, false),
		session("s2", "u:1", jan2.Add(time.Hour), 300, false),
		session("s3", "a:2", jan1.Add(time.Hour), 0, true),
		session("s4", "u:3", jan2.Add(2*time.Hour), 600, false),
	}})

	got, err := f.service.Engagement(params(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 4, got.Sessions)
	assert.Equal(t, 100.0, got.P50Seconds)
	assert.Equal(t, 600.0, got.P90Seconds)
	assert.Equal(t, 600.0, got.P95Seconds)
	assert.Equal(t, 3, got.Visitors)
	// u:1 = 4+20+30, a:2 = 2+0+29, u:3 = 2+30+30
	assert.Equal(t, map[string]int{query.EngagementLow: 1, query.EngagementMedium: 2, query.EngagementHigh: 0}, got.Distribution)
	assert.Equal(t, 49.0, got.AvgEngagementScore)
}

func TestCacheIsPurgedOnPublish(t *testing.T) {
	f := setup(t, query.Options{})
	f.publish(t, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{activeUsers(timeframe.GrainDay, jan1, 1)}})

	rows, err := f.service.DailyActiveUsers(params(t, nil))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	f.publish(t, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{activeUsers(timeframe.GrainDay, jan2, 2)}})

	rows, err = f.service.DailyActiveUsers(params(t, nil))
	require.NoError(t, err)
	assert.Len(t, rows, 1, "served from cache")

	f.service.Purge()

	rows, err = f.service.DailyActiveUsers(params(t, nil))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
