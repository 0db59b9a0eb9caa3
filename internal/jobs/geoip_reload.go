package jobs

import (
	"context"
	"log/slog"

	"pulse/internal/pkg/geoip"
)

// GeoIPReloadJob reopens the GeoLite database after the file on disk is
// replaced, so ingestion picks up a new release without a restart.
type GeoIPReloadJob struct {
	logger *slog.Logger
	stale  func() bool
	reload func()
}

// NewGeoIPReloadJob creates the reload job over the package-level geoip database.
func NewGeoIPReloadJob(logger *slog.Logger) *GeoIPReloadJob {
	return &GeoIPReloadJob{
		logger: logger,
		stale:  geoip.Stale,
		reload: geoip.ReloadGeoDB,
	}
}

func (j *GeoIPReloadJob) Name() string { return "geoip_reload" }

// Run reloads the database when the file changed since it was opened.
func (j *GeoIPReloadJob) Run(ctx context.Context) error {
	if !j.stale() {
		j.logger.Debug("GeoLite database is up to date")
		return nil
	}

	j.logger.Info("GeoLite database changed on disk, reloading")
	j.reload()
	if geoip.GetGeoDB() == nil {
		j.logger.Warn("GeoLite database could not be opened; country lookups are disabled")
	}
	return nil
}
