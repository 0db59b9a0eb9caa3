// Package internal contains core application functionality
package internal

import (
	"fmt"
	"time"

	"github.com/karloscodes/cartridge"

	"pulse/internal/config"
	"pulse/internal/database"
	"pulse/internal/jobs"
	"pulse/internal/pkg/geoip"
	"pulse/internal/pkg/telemetry"
)

const (
	geoIPReloadInterval = time.Hour
	cleanupInterval     = 24 * time.Hour
)

// Application wraps cartridge.Application with pulse-specific components
type Application struct {
	*cartridge.Application
	DBManager  *database.DBManager // DB manager with migration methods
	Components *Components
	Scheduler  *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	components, err := NewComponents(cfg, dbManager.GetConnection(), logger, telemetry.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	scheduler := jobs.NewScheduler(logger,
		jobs.Schedule{
			Job: jobs.NewAggregationJob(components.Aggregator, logger,
				cfg.AggregationLookbackDays, cfg.RetentionMaxDays),
			Interval:   time.Duration(cfg.JobIntervalSeconds) * time.Second,
			RunAtStart: true,
		},
		jobs.Schedule{
			Job:      jobs.NewGeoIPReloadJob(logger),
			Interval: geoIPReloadInterval,
		},
		jobs.Schedule{
			Job:      jobs.NewCleanupJob(components.Store, logger, cfg.PassHistoryRetentionDays),
			Interval: cleanupInterval,
		},
	)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, components)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Components:  components,
		Scheduler:   scheduler,
	}, nil
}
