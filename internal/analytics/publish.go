package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Store publishes and reads aggregate tables.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a store over the given connection.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Publish writes a pass in a single transaction. Rows marked final are only
// overwritten when the publication is an explicit recompute; retention
// entries are never revised otherwise.
func (s *Store) Publish(ctx context.Context, pub *Publication) error {
	now := time.Now().UTC()
	pub.Pass.RowsWritten = pub.RowCount()
	pub.Pass.Recompute = pub.Recompute

	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		for _, row := range pub.ActiveUsers {
			if err := upsertActiveUsers(tx, row, pub.Recompute, now); err != nil {
				return fmt.Errorf("active users %s/%s: %w", row.Grain, row.PeriodStart.Format(time.DateOnly), err)
			}
		}
		for _, row := range pub.Sessions {
			if err := upsertSessionFact(tx, row, pub.Recompute, now); err != nil {
				return fmt.Errorf("session %s: %w", row.SessionID, err)
			}
		}
		if pub.Recompute && pub.RetentionTo.After(pub.RetentionFrom) {
			err := tx.Where("cohort_date >= ? AND cohort_date < ?", pub.RetentionFrom.UTC(), pub.RetentionTo.UTC()).
				Delete(&RetentionCohort{}).Error
			if err != nil {
				return fmt.Errorf("clearing retention cohorts: %w", err)
			}
		}
		for _, row := range pub.Retention {
			if err := insertRetention(tx, row, pub.Recompute, now); err != nil {
				return fmt.Errorf("retention %s+%d: %w", row.CohortDate.Format(time.DateOnly), row.DaysSinceCohort, err)
			}
		}
		for _, row := range pub.FunnelSteps {
			if err := upsertFunnelStep(tx, row, pub.Recompute, now); err != nil {
				return fmt.Errorf("funnel %s step %d: %w", row.Funnel, row.StepNumber, err)
			}
		}
		for _, row := range pub.Rankings {
			if err := upsertRanking(tx, row, pub.Recompute, now); err != nil {
				return fmt.Errorf("ranking %s/%s: %w", row.Dimension, row.Name, err)
			}
		}
		pub.Pass.CreatedAt = now
		return tx.Create(&pub.Pass).Error
	})
	if err != nil {
		s.logger.Error("Failed to publish aggregation pass",
			slog.String("pass_id", pub.Pass.PassID),
			slog.Any("error", err))
		return fmt.Errorf("failed to publish aggregates: %w", err)
	}
	return nil
}

func upsertActiveUsers(tx *gorm.DB, row ActiveUserStat, recompute bool, now time.Time) error {
	query := `
		INSERT INTO active_user_stats (grain, period_start, total, identified, anonymous, final, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (grain, period_start) DO UPDATE SET
			total = excluded.total,
			identified = excluded.identified,
			anonymous = excluded.anonymous,
			final = excluded.final,
			updated_at = excluded.updated_at
		WHERE active_user_stats.final = 0 OR ?
	`
	return tx.Exec(query,
		row.Grain, row.PeriodStart.UTC(), row.Total, row.Identified, row.Anonymous, row.Final, now, now,
		recompute).Error
}

func upsertSessionFact(tx *gorm.DB, row SessionFact, recompute bool, now time.Time) error {
	query := `
		INSERT INTO session_facts (session_id, identity_key, session_date, started_at, ended_at, duration_seconds,
			event_count, page_views, is_bounce, entry_page, exit_page, final, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			identity_key = excluded.identity_key,
			session_date = excluded.session_date,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration_seconds = excluded.duration_seconds,
			event_count = excluded.event_count,
			page_views = excluded.page_views,
			is_bounce = excluded.is_bounce,
			entry_page = excluded.entry_page,
			exit_page = excluded.exit_page,
			final = excluded.final,
			updated_at = excluded.updated_at
		WHERE session_facts.final = 0 OR ?
	`
	return tx.Exec(query,
		row.SessionID, row.IdentityKey, row.SessionDate.UTC(), row.StartedAt.UTC(), row.EndedAt.UTC(), row.DurationSeconds,
		row.EventCount, row.PageViews, row.IsBounce, row.EntryPage, row.ExitPage, row.Final, now, now,
		recompute).Error
}

func insertRetention(tx *gorm.DB, row RetentionCohort, recompute bool, now time.Time) error {
	conflict := "DO NOTHING"
	if recompute {
		conflict = `DO UPDATE SET
			cohort_size = excluded.cohort_size,
			retained_users = excluded.retained_users,
			retention_rate = excluded.retention_rate,
			updated_at = excluded.updated_at`
	}
	query := `
		INSERT INTO retention_cohorts (cohort_date, days_since_cohort, cohort_size, retained_users, retention_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cohort_date, days_since_cohort) ` + conflict
	return tx.Exec(query,
		row.CohortDate.UTC(), row.DaysSinceCohort, row.CohortSize, row.RetainedUsers, row.RetentionRate, now, now).Error
}

func upsertFunnelStep(tx *gorm.DB, row FunnelStepStat, recompute bool, now time.Time) error {
	query := `
		INSERT INTO funnel_step_stats (funnel, day, step_number, step_name, sessions_reached, final, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (funnel, day, step_number) DO UPDATE SET
			step_name = excluded.step_name,
			sessions_reached = excluded.sessions_reached,
			final = excluded.final,
			updated_at = excluded.updated_at
		WHERE funnel_step_stats.final = 0 OR ?
	`
	return tx.Exec(query,
		row.Funnel, row.Day.UTC(), row.StepNumber, row.StepName, row.SessionsReached, row.Final, now, now,
		recompute).Error
}

func upsertRanking(tx *gorm.DB, row RankingStat, recompute bool, now time.Time) error {
	query := `
		INSERT INTO ranking_stats (day, dimension, name, count, first_seen_at, first_seen_seq, final, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (day, dimension, name) DO UPDATE SET
			count = excluded.count,
			first_seen_at = excluded.first_seen_at,
			first_seen_seq = excluded.first_seen_seq,
			final = excluded.final,
			updated_at = excluded.updated_at
		WHERE ranking_stats.final = 0 OR ?
	`
	return tx.Exec(query,
		row.Day.UTC(), row.Dimension, row.Name, row.Count, row.FirstSeenAt.UTC(), row.FirstSeenSeq, row.Final, now, now,
		recompute).Error
}

// PrunePasses deletes up to batchSize pass records created before cutoff and
// returns how many were removed. Aggregate rows are never pruned.
func (s *Store) PrunePasses(cutoff time.Time, batchSize int) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		oldest := tx.Model(&AggregationPass{}).
			Select("id").
			Where("created_at < ?", cutoff.UTC()).
			Order("id ASC").
			Limit(batchSize)
		result := tx.Where("id IN (?)", oldest).Delete(&AggregationPass{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune pass history: %w", err)
	}
	return deleted, nil
}
