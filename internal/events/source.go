package events

import (
	"context"
	"time"

	"gorm.io/gorm"

	"pulse/internal/identity"
)

// Source reads the raw event log for aggregation passes.
type Source struct {
	db *gorm.DB
}

// NewSource creates a source over the given connection.
func NewSource(db *gorm.DB) *Source {
	return &Source{db: db}
}

// LoadEvents reads the events in [from, to); see LoadEvents.
func (s *Source) LoadEvents(ctx context.Context, from, to time.Time) ([]RawEvent, error) {
	return LoadEvents(ctx, s.db, from, to)
}

// LoadIdentityLinks reads the identity links observed before until.
func (s *Source) LoadIdentityLinks(ctx context.Context, until time.Time) ([]identity.Link, error) {
	return LoadIdentityLinks(ctx, s.db, until)
}

// LoadSessionEvents reads every event of the given sessions before until.
func (s *Source) LoadSessionEvents(ctx context.Context, sessionIDs []string, until time.Time) ([]RawEvent, error) {
	return LoadSessionEvents(ctx, s.db, sessionIDs, until)
}
