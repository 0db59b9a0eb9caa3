package analytics

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pulse/internal/timeframe"
)

// SessionPeriodStat summarizes the sessions that started in one period.
type SessionPeriodStat struct {
	PeriodStart        time.Time `json:"period_start"`
	Sessions           int64     `json:"sessions"`
	Bounces            int64     `json:"bounces"`
	AvgDurationSeconds float64   `json:"avg_duration_seconds"`
	TotalPageViews     int64     `json:"page_views"`
}

// SessionTotals summarizes all sessions in a range.
type SessionTotals struct {
	Sessions           int64
	Bounces            int64
	AvgDurationSeconds float64
}

// IdentitySessions summarizes the sessions of one identity.
type IdentitySessions struct {
	IdentityKey        string
	SessionCount       int64
	AvgDurationSeconds float64
	LastSessionAt      time.Time
}

// FunnelStepTotal is a funnel step summed over a range of days.
type FunnelStepTotal struct {
	StepNumber      int
	StepName        string
	SessionsReached int64
}

// RankingEntry is one row of a top-N ranking.
type RankingEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func applyWindow(query *gorm.DB, column string, window *timeframe.Window) *gorm.DB {
	if window == nil {
		return query
	}
	return query.Where(column+" >= ? AND "+column+" < ?", window.Start.UTC(), window.End.UTC())
}

// ListActiveUsers returns active-user rows for a grain, newest period first.
func (s *Store) ListActiveUsers(grain timeframe.Grain, window *timeframe.Window, limit int) ([]ActiveUserStat, error) {
	query := s.db.Model(&ActiveUserStat{}).Where("grain = ?", string(grain))
	query = applyWindow(query, "period_start", window)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []ActiveUserStat
	if err := query.Order("period_start DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching %s active users: %w", grain, err)
	}
	return rows, nil
}

// GetActiveUsers returns the row for one period. The boolean is false when
// nothing was published for it.
func (s *Store) GetActiveUsers(grain timeframe.Grain, periodStart time.Time) (*ActiveUserStat, bool, error) {
	var row ActiveUserStat
	err := s.db.Where("grain = ? AND period_start = ?", string(grain), periodStart.UTC()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error fetching %s active users: %w", grain, err)
	}
	return &row, true, nil
}

// LatestActiveUsers returns the most recent published period of a grain.
func (s *Store) LatestActiveUsers(grain timeframe.Grain) (*ActiveUserStat, bool, error) {
	rows, err := s.ListActiveUsers(grain, nil, 1)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return &rows[0], true, nil
}

// ListSessionFacts returns individual sessions, most recent first.
func (s *Store) ListSessionFacts(window *timeframe.Window, limit int) ([]SessionFact, error) {
	query := applyWindow(s.db.Model(&SessionFact{}), "started_at", window)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []SessionFact
	if err := query.Order("started_at DESC, session_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching sessions: %w", err)
	}
	return rows, nil
}

// AggregateSessions rolls session facts up by grain, newest period first.
func (s *Store) AggregateSessions(grain timeframe.Grain, window *timeframe.Window, limit int) ([]SessionPeriodStat, error) {
	type dayRow struct {
		SessionDate   string
		Sessions      int64
		Bounces       int64
		TotalDuration int64
		PageViews     int64
	}

	query := s.db.Model(&SessionFact{}).
		Select(`session_date,
			COUNT(*) AS sessions,
			COALESCE(SUM(CASE WHEN is_bounce THEN 1 ELSE 0 END), 0) AS bounces,
			COALESCE(SUM(duration_seconds), 0) AS total_duration,
			COALESCE(SUM(page_views), 0) AS page_views`)
	query = applyWindow(query, "session_date", window)

	var days []dayRow
	if err := query.Group("session_date").Order("session_date ASC").Scan(&days).Error; err != nil {
		return nil, fmt.Errorf("error aggregating sessions: %w", err)
	}

	type bucket struct {
		stat          SessionPeriodStat
		totalDuration int64
	}
	var order []time.Time
	buckets := make(map[time.Time]*bucket)
	for _, d := range days {
		day := timeframe.ParseStoredTime(d.SessionDate)
		period := timeframe.PeriodStart(day, grain)
		b, ok := buckets[period]
		if !ok {
			b = &bucket{stat: SessionPeriodStat{PeriodStart: period}}
			buckets[period] = b
			order = append(order, period)
		}
		b.stat.Sessions += d.Sessions
		b.stat.Bounces += d.Bounces
		b.stat.TotalPageViews += d.PageViews
		b.totalDuration += d.TotalDuration
	}

	stats := make([]SessionPeriodStat, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		b := buckets[order[i]]
		if b.stat.Sessions > 0 {
			b.stat.AvgDurationSeconds = float64(b.totalDuration) / float64(b.stat.Sessions)
		}
		stats = append(stats, b.stat)
		if limit > 0 && len(stats) == limit {
			break
		}
	}
	return stats, nil
}

// GetSessionTotals summarizes the sessions in a range.
func (s *Store) GetSessionTotals(window *timeframe.Window) (SessionTotals, error) {
	var totals SessionTotals
	query := s.db.Model(&SessionFact{}).
		Select(`COUNT(*) AS sessions,
			COALESCE(SUM(CASE WHEN is_bounce THEN 1 ELSE 0 END), 0) AS bounces,
			COALESCE(AVG(duration_seconds), 0) AS avg_duration_seconds`)
	query = applyWindow(query, "started_at", window)
	if err := query.Scan(&totals).Error; err != nil {
		return SessionTotals{}, fmt.Errorf("error fetching session totals: %w", err)
	}
	return totals, nil
}

// SessionDurations returns every session duration in a range, in seconds.
func (s *Store) SessionDurations(window *timeframe.Window) ([]float64, error) {
	var durations []float64
	query := applyWindow(s.db.Model(&SessionFact{}), "started_at", window)
	if err := query.Pluck("duration_seconds", &durations).Error; err != nil {
		return nil, fmt.Errorf("error fetching session durations: %w", err)
	}
	return durations, nil
}

// SessionsByIdentity summarizes sessions per identity in a range.
func (s *Store) SessionsByIdentity(window *timeframe.Window) ([]IdentitySessions, error) {
	type row struct {
		IdentityKey        string
		SessionCount       int64
		AvgDurationSeconds float64
		LastSessionAt      string
	}

	query := s.db.Model(&SessionFact{}).
		Select(`identity_key,
			COUNT(*) AS session_count,
			AVG(duration_seconds) AS avg_duration_seconds,
			MAX(started_at) AS last_session_at`).
		Where("identity_key != ''")
	query = applyWindow(query, "started_at", window)

	var rows []row
	if err := query.Group("identity_key").Order("identity_key ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching sessions by identity: %w", err)
	}

	result := make([]IdentitySessions, 0, len(rows))
	for _, r := range rows {
		result = append(result, IdentitySessions{
			IdentityKey:        r.IdentityKey,
			SessionCount:       r.SessionCount,
			AvgDurationSeconds: r.AvgDurationSeconds,
			LastSessionAt:      timeframe.ParseStoredTime(r.LastSessionAt),
		})
	}
	return result, nil
}

// ListRetention returns retention entries ordered by cohort (newest first) and
// day offset. A nil cohortDate returns every cohort.
func (s *Store) ListRetention(cohortDate *time.Time, maxDays, limit int) ([]RetentionCohort, error) {
	query := s.db.Model(&RetentionCohort{}).Where("days_since_cohort <= ?", maxDays)
	if cohortDate != nil {
		query = query.Where("cohort_date = ?", cohortDate.UTC())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []RetentionCohort
	if err := query.Order("cohort_date DESC, days_since_cohort ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching retention: %w", err)
	}
	return rows, nil
}

// SumFunnel adds up a funnel's daily step counts over a range.
func (s *Store) SumFunnel(funnel string, window *timeframe.Window) ([]FunnelStepTotal, error) {
	query := s.db.Model(&FunnelStepStat{}).
		Select("step_number, MIN(step_name) AS step_name, COALESCE(SUM(sessions_reached), 0) AS sessions_reached").
		Where("funnel = ?", funnel)
	query = applyWindow(query, "day", window)

	var rows []FunnelStepTotal
	if err := query.Group("step_number").Order("step_number ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching funnel %s: %w", funnel, err)
	}
	return rows, nil
}

// ListFunnels returns the names of every funnel with published data.
func (s *Store) ListFunnels() ([]string, error) {
	var names []string
	if err := s.db.Model(&FunnelStepStat{}).Distinct().Order("funnel ASC").Pluck("funnel", &names).Error; err != nil {
		return nil, fmt.Errorf("error listing funnels: %w", err)
	}
	return names, nil
}

// RankingCandidate is a ranking row summed over a range, before tie-breaking.
type RankingCandidate struct {
	Name         string
	Count        int64
	FirstSeenAt  time.Time
	FirstSeenSeq uint
}

// SumRanking adds up the daily counts of a dimension over a range. Rows come
// back unordered; callers rank them.
func (s *Store) SumRanking(dimension string, window *timeframe.Window) ([]RankingCandidate, error) {
	type row struct {
		Name         string
		Count        int64
		FirstSeenAt  string
		FirstSeenSeq uint
	}

	query := s.db.Model(&RankingStat{}).
		Select(`name,
			SUM(count) AS count,
			MIN(first_seen_at) AS first_seen_at,
			MIN(first_seen_seq) AS first_seen_seq`).
		Where("dimension = ?", dimension)
	query = applyWindow(query, "day", window)

	var rows []row
	if err := query.Group("name").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error fetching %s ranking: %w", dimension, err)
	}

	candidates := make([]RankingCandidate, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, RankingCandidate{
			Name:         r.Name,
			Count:        r.Count,
			FirstSeenAt:  timeframe.ParseStoredTime(r.FirstSeenAt),
			FirstSeenSeq: r.FirstSeenSeq,
		})
	}
	return candidates, nil
}

// LatestPass returns the most recently published pass.
func (s *Store) LatestPass() (*AggregationPass, bool, error) {
	var pass AggregationPass
	err := s.db.Order("created_at DESC, id DESC").First(&pass).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error fetching latest pass: %w", err)
	}
	return &pass, true, nil
}
