package jobs

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/aggregator"
	"pulse/internal/timeframe"
)

// AggregationJob re-aggregates the last few days so late events and periods
// still in progress are picked up.
type AggregationJob struct {
	agg              *aggregator.Aggregator
	logger           *slog.Logger
	lookbackDays     int
	maxRetentionDays int
	clock            timeframe.TimeProvider
}

// NewAggregationJob creates the rolling aggregation job.
func NewAggregationJob(agg *aggregator.Aggregator, logger *slog.Logger, lookbackDays, maxRetentionDays int) *AggregationJob {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	return &AggregationJob{
		agg:              agg,
		logger:           logger,
		lookbackDays:     lookbackDays,
		maxRetentionDays: maxRetentionDays,
		clock:            &timeframe.DefaultTimeProvider{},
	}
}

// WithTimeProvider overrides the clock used to place the window.
func (j *AggregationJob) WithTimeProvider(tp timeframe.TimeProvider) *AggregationJob {
	j.clock = tp
	return j
}

func (j *AggregationJob) Name() string { return "aggregation" }

// Window returns the days the next run covers: the lookback days plus today.
func (j *AggregationJob) Window() timeframe.Window {
	today := timeframe.StartOfDay(j.clock.Now(time.UTC))
	return timeframe.Window{
		Start: today.AddDate(0, 0, -j.lookbackDays),
		End:   today.AddDate(0, 0, 1),
	}
}

// Run publishes one pass over Window.
func (j *AggregationJob) Run(ctx context.Context) error {
	window := j.Window()
	j.logger.Debug("Starting rolling aggregation",
		slog.Time("window_start", window.Start),
		slog.Time("window_end", window.End))

	result, err := j.agg.Run(ctx, aggregator.PassRequest{
		Window:           window,
		MaxRetentionDays: j.maxRetentionDays,
		AsOf:             j.clock.Now(time.UTC),
	})
	if err != nil {
		return err
	}

	j.logger.Info("Rolling aggregation published",
		slog.String("pass_id", result.PassID),
		slog.Int("events_read", result.EventsRead),
		slog.Int64("rows_written", result.RowsWritten))
	return nil
}
