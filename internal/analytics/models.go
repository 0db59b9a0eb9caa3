// Package analytics owns the published aggregate tables: how aggregation
// passes write them and how queries read them.
package analytics

import "time"

// Ranking dimensions
const (
	DimensionEvent   = "event"
	DimensionPage    = "page"
	DimensionCountry = "country"
)

// ActiveUserStat holds the distinct identities active in one period.
// Total always equals Identified + Anonymous.
type ActiveUserStat struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Grain       string    `gorm:"uniqueIndex:idx_active_grain_period;size:8;not null" json:"grain"`
	PeriodStart time.Time `gorm:"uniqueIndex:idx_active_grain_period;type:datetime;not null" json:"period_start"`
	Total       int64     `gorm:"not null;default:0" json:"total"`
	Identified  int64     `gorm:"not null;default:0" json:"identified"`
	Anonymous   int64     `gorm:"not null;default:0" json:"anonymous"`
	Final       bool      `gorm:"not null;default:false" json:"final"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// SessionFact is one derived session.
type SessionFact struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID       string    `gorm:"uniqueIndex;not null" json:"session_id"`
	IdentityKey     string    `gorm:"index" json:"-"`
	SessionDate     time.Time `gorm:"index;type:datetime;not null" json:"session_date"`
	StartedAt       time.Time `gorm:"type:datetime;not null" json:"session_start"`
	EndedAt         time.Time `gorm:"type:datetime;not null" json:"session_end"`
	DurationSeconds int64     `gorm:"not null;default:0" json:"session_duration_seconds"`
	EventCount      int64     `gorm:"not null;default:0" json:"event_count"`
	PageViews       int64     `gorm:"not null;default:0" json:"page_views"`
	IsBounce        bool      `gorm:"not null;default:false" json:"is_bounce"`
	EntryPage       string    `json:"entry_page"`
	ExitPage        string    `json:"exit_page"`
	Final           bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

// RetentionCohort is the retention of one cohort on one day offset.
type RetentionCohort struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	CohortDate      time.Time `gorm:"uniqueIndex:idx_retention_cohort_day;type:datetime;not null" json:"cohort_date"`
	DaysSinceCohort int       `gorm:"uniqueIndex:idx_retention_cohort_day;not null" json:"days_since_cohort"`
	CohortSize      int64     `gorm:"not null;default:0" json:"cohort_size"`
	RetainedUsers   int64     `gorm:"not null;default:0" json:"retained_users"`
	RetentionRate   float64   `gorm:"not null;default:0" json:"retention_rate"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

// FunnelStepStat counts sessions starting on Day that reached a funnel step.
type FunnelStepStat struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Funnel          string    `gorm:"uniqueIndex:idx_funnel_day_step;not null"`
	Day             time.Time `gorm:"uniqueIndex:idx_funnel_day_step;type:datetime;not null"`
	StepNumber      int       `gorm:"uniqueIndex:idx_funnel_day_step;not null"`
	StepName        string    `gorm:"not null"`
	SessionsReached int64     `gorm:"not null;default:0"`
	Final           bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RankingStat counts occurrences of a name (event name, page path, country) on one day.
type RankingStat struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Day          time.Time `gorm:"uniqueIndex:idx_ranking_day_key;type:datetime;not null"`
	Dimension    string    `gorm:"uniqueIndex:idx_ranking_day_key;size:16;not null"`
	Name         string    `gorm:"uniqueIndex:idx_ranking_day_key;not null"`
	Count        int64     `gorm:"not null;default:0"`
	FirstSeenAt  time.Time `gorm:"type:datetime;not null"`
	FirstSeenSeq uint      `gorm:"not null;default:0"`
	Final        bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AggregationPass records one published pass.
type AggregationPass struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	PassID      string    `gorm:"uniqueIndex;size:36;not null" json:"pass_id"`
	WindowStart time.Time `gorm:"type:datetime;not null" json:"window_start"`
	WindowEnd   time.Time `gorm:"type:datetime;not null" json:"window_end"`
	AsOf        time.Time `gorm:"type:datetime;not null" json:"as_of"`
	Families    string    `gorm:"not null" json:"families"`
	Recompute   bool      `gorm:"not null;default:false" json:"recompute"`
	EventsRead  int64     `json:"events_read"`
	RowsWritten int64     `json:"rows_written"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// Publication is everything one pass writes. It is applied atomically.
type Publication struct {
	Pass        AggregationPass
	Recompute   bool
	ActiveUsers []ActiveUserStat
	Sessions    []SessionFact
	Retention   []RetentionCohort
	FunnelSteps []FunnelStepStat
	Rankings    []RankingStat

	// RetentionFrom and RetentionTo bound the cohort dates the pass computed.
	// A recompute replaces every cohort in [RetentionFrom, RetentionTo),
	// including ones that no longer have members.
	RetentionFrom time.Time
	RetentionTo   time.Time
}

// RowCount returns the number of aggregate rows in the publication.
func (p *Publication) RowCount() int64 {
	return int64(len(p.ActiveUsers) + len(p.Sessions) + len(p.Retention) + len(p.FunnelSteps) + len(p.Rankings))
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{
		&ActiveUserStat{},
		&SessionFact{},
		&RetentionCohort{},
		&FunnelStepStat{},
		&RankingStat{},
		&AggregationPass{},
	}
}
