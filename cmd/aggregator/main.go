// Command aggregator publishes the closing aggregation passes on a cron
// schedule: yesterday after midnight, the previous week on Mondays and the
// previous month on the first. With --run-once it runs a single pass and exits.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"pulse/internal"
	"pulse/internal/aggregator"
	"pulse/internal/config"
	"pulse/internal/database"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/timeframe"
)

var (
	runOnce   = flag.Bool("run-once", false, "Run one pass and exit")
	passDate  = flag.String("date", "", "Day to aggregate with --run-once (YYYY-MM-DD). Defaults to yesterday")
	recompute = flag.Bool("recompute", false, "Allow finalized periods to be overwritten (--run-once only)")
)

func main() {
	flag.Parse()

	cfg := config.GetConfig()
	logger := newLogger(cfg)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	components, err := internal.NewComponents(cfg, dbManager.GetConnection(), logger, telemetry.Default())
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}
	agg := components.Aggregator

	if *runOnce {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if *passDate != "" {
			day, err = timeframe.ParseDate("date", *passDate)
			if err != nil {
				log.Fatalf("Invalid date: %v", err)
			}
		}
		req := dailyRequest(day, cfg.RetentionMaxDays)
		req.Recompute = *recompute
		if err := runPass(agg, logger, "run_once", req); err != nil {
			os.Exit(1)
		}
		return
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)

	schedules := []struct {
		name    string
		spec    string
		request func(now time.Time) aggregator.PassRequest
	}{
		{"daily", cfg.DailyPassSchedule, func(now time.Time) aggregator.PassRequest {
			return dailyRequest(now.AddDate(0, 0, -1), cfg.RetentionMaxDays)
		}},
		{"weekly", cfg.WeeklyPassSchedule, previousPeriodRequest(timeframe.GrainWeek)},
		{"monthly", cfg.MonthlyPassSchedule, previousPeriodRequest(timeframe.GrainMonth)},
	}
	for _, s := range schedules {
		_, err := c.AddFunc(s.spec, func() {
			_ = runPass(agg, logger, s.name, s.request(time.Now().UTC()))
		})
		if err != nil {
			log.Fatalf("Failed to schedule %s pass: %v", s.name, err)
		}
		logger.Info("Scheduled aggregation pass",
			slog.String("pass", s.name),
			slog.String("schedule", s.spec))
	}

	c.Start()
	logger.Info("Aggregator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	<-c.Stop().Done()
	logger.Info("Aggregator stopped")
}

// newLogger writes JSON logs to stdout and to a rotating file in the logs
// directory.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.GetLogLevel())); err != nil {
		level = slog.LevelInfo
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.GetLogDirectory(), "aggregator.log"),
		MaxSize:    cfg.GetLogMaxSizeMB(),
		MaxBackups: cfg.GetLogMaxBackups(),
		MaxAge:     cfg.GetLogMaxAgeDays(),
		Compress:   true,
	}
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("component", "aggregator"))
}

// dailyRequest covers every family for the day containing day.
func dailyRequest(day time.Time, maxRetentionDays int) aggregator.PassRequest {
	return aggregator.PassRequest{
		Window:           timeframe.DayWindow(day),
		Grains:           []timeframe.Grain{timeframe.GrainDay},
		MaxRetentionDays: maxRetentionDays,
	}
}

// previousPeriodRequest closes the active-user count of the grain period
// before the one containing now.
func previousPeriodRequest(grain timeframe.Grain) func(now time.Time) aggregator.PassRequest {
	return func(now time.Time) aggregator.PassRequest {
		current := timeframe.PeriodStart(now, grain)
		previous := timeframe.PeriodStart(current.Add(-time.Nanosecond), grain)
		return aggregator.PassRequest{
			Window:   timeframe.Window{Start: previous, End: current},
			Grains:   []timeframe.Grain{grain},
			Families: []aggregator.Family{aggregator.FamilyActiveUsers},
		}
	}
}

func runPass(agg *aggregator.Aggregator, logger *slog.Logger, name string, req aggregator.PassRequest) error {
	result, err := agg.Run(context.Background(), req)
	if err != nil {
		logger.Error("Aggregation pass failed", slog.String("pass", name), slog.Any("error", err))
		return err
	}
	logger.Info("Aggregation pass completed",
		slog.String("pass", name),
		slog.String("pass_id", result.PassID),
		slog.Int("events_read", result.EventsRead),
		slog.Int64("rows_written", result.RowsWritten))
	return nil
}
