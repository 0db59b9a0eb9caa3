package internal

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/config"
	"pulse/internal/events"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/query"
)

// Components are the long-lived services shared by routes and background jobs.
type Components struct {
	Metrics    *telemetry.Metrics
	Store      *analytics.Store
	Aggregator *aggregator.Aggregator
	Query      *query.Service
}

// NewComponents builds the aggregator and query service over db. The query
// cache is purged whenever the aggregator publishes.
func NewComponents(cfg *config.Config, db *gorm.DB, logger *slog.Logger, m *telemetry.Metrics) (*Components, error) {
	funnels, err := aggregator.LoadFunnelDefinitions(cfg.FunnelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load funnels: %w", err)
	}

	store := analytics.NewStore(db, logger)
	agg := aggregator.New(events.NewSource(db), store, logger, aggregator.Options{
		Workers:        cfg.AggregationWorkers,
		SessionTimeout: cfg.SessionTimeout(),
		Funnels:        funnels,
		Metrics:        m,
	})

	qs := query.NewService(db, logger, query.Options{
		SessionGrainAggregation: cfg.SessionGrainAggregation,
		Funnels:                 funnels,
		CacheSize:               cfg.QueryCacheSize,
		CacheTTL:                cfg.QueryCacheTTL(),
		Metrics:                 m,
	})
	qs.PurgeOnPublish(agg)

	return &Components{
		Metrics:    m,
		Store:      store,
		Aggregator: agg,
		Query:      qs,
	}, nil
}
