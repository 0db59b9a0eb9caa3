// Package query answers metric requests from the published aggregate tables.
// Reads never trigger aggregation; results are cached until the next pass
// publishes.
package query

import (
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/pkg/async"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/timeframe"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second
	overviewWorkers  = 4
)

// Options configure a Service.
type Options struct {
	// SessionGrainAggregation serves sessions rolled up by grain; when false
	// the raw session facts are returned instead.
	SessionGrainAggregation bool
	Funnels                 []aggregator.FunnelDefinition
	CacheSize               int
	CacheTTL                time.Duration
	Metrics                 *telemetry.Metrics
	TimeProvider            timeframe.TimeProvider
}

// Service reads published aggregates.
type Service struct {
	db     *gorm.DB
	store  *analytics.Store
	logger *slog.Logger
	opts   Options
	cache  *lru.LRU[string, any]
	pool   *async.Pool

	// generation advances on every purge and prefixes cache keys, so a read
	// that straddles a purge stores its result under a key no one asks for.
	generation atomic.Uint64
}

// NewService creates a query service over db.
func NewService(db *gorm.DB, logger *slog.Logger, opts Options) *Service {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Funnels == nil {
		opts.Funnels = aggregator.DefaultFunnels
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &timeframe.DefaultTimeProvider{}
	}
	return &Service{
		db:     db,
		store:  analytics.NewStore(db, logger),
		logger: logger,
		opts:   opts,
		cache:  lru.NewLRU[string, any](opts.CacheSize, nil, opts.CacheTTL),
		pool:   async.NewPool(overviewWorkers),
	}
}

// Purge drops every cached result. It runs after each published pass.
func (s *Service) Purge() {
	s.generation.Add(1)
	s.cache.Purge()
	s.opts.Metrics.RecordCachePurge()
}

// PurgeOnPublish keeps the cache coherent with passes run by agg.
func (s *Service) PurgeOnPublish(agg *aggregator.Aggregator) {
	agg.OnPublish(func(*aggregator.PassResult) { s.Purge() })
}

func (s *Service) now() time.Time {
	return s.opts.TimeProvider.Now(time.UTC)
}

// cached returns the cached value for key or computes and stores it.
// Errors are never cached.
func cached[T any](s *Service, key string, compute func() (T, error)) (T, error) {
	key = strconv.FormatUint(s.generation.Load(), 10) + ":" + key
	if v, ok := s.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			s.opts.Metrics.RecordCacheLookup(true)
			return typed, nil
		}
	}
	s.opts.Metrics.RecordCacheLookup(false)

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	s.cache.Add(key, v)
	return v, nil
}
