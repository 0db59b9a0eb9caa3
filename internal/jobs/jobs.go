// Package jobs runs the recurring background work of the server: the rolling
// aggregation pass, GeoIP database reloads and pass history cleanup.
package jobs

import (
	"context"
	"time"
)

// Job is a unit of recurring background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule pairs a job with its interval.
type Schedule struct {
	Job      Job
	Interval time.Duration
	// RunAtStart runs the job once before the first tick.
	RunAtStart bool
}
