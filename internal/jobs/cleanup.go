package jobs

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/analytics"
)

const cleanupBatchSize = 1000

// CleanupJob prunes old aggregation pass records. The raw event log and the
// aggregate tables are kept forever.
type CleanupJob struct {
	store         *analytics.Store
	logger        *slog.Logger
	retentionDays int
}

// NewCleanupJob creates a job keeping retentionDays of pass history.
func NewCleanupJob(store *analytics.Store, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		store:         store,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

func (j *CleanupJob) Name() string { return "pass_history_cleanup" }

// Run deletes pass records older than the retention period in batches.
func (j *CleanupJob) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	j.logger.Debug("Starting pass history cleanup",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := j.store.PrunePasses(cutoff, cleanupBatchSize)
		if err != nil {
			j.logger.Error("Failed to prune pass history",
				slog.Any("error", err),
				slog.Int64("deleted_so_far", total))
			return err
		}
		total += deleted
		if deleted < cleanupBatchSize {
			break
		}
		// Let ingestion writes through between batches.
		time.Sleep(100 * time.Millisecond)
	}

	if total > 0 {
		j.logger.Info("Pruned pass history",
			slog.Int64("deleted_count", total),
			slog.Int("retention_days", j.retentionDays))
	}
	return nil
}
