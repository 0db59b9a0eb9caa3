package events

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pulse/internal/identity"
	"pulse/internal/timeframe"
)

// EventFilters narrows the raw event query.
type EventFilters struct {
	Start     time.Time
	End       time.Time
	EventName string
	UserID    string
	Limit     int
}

// GetFilteredEvents returns raw events newest first, within [Start, End)
// when the bounds are set.
func GetFilteredEvents(db *gorm.DB, filters EventFilters) ([]RawEvent, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := db.Model(&RawEvent{})
	if !filters.Start.IsZero() {
		query = query.Where("event_timestamp >= ?", filters.Start.UTC())
	}
	if !filters.End.IsZero() {
		query = query.Where("event_timestamp < ?", filters.End.UTC())
	}
	if filters.EventName != "" {
		query = query.Where("event_name = ?", filters.EventName)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}

	var rows []RawEvent
	if err := query.Order("event_timestamp DESC, seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return rows, nil
}

// LoadEvents reads the events in [from, to) ordered by timestamp then
// ingestion order. A zero from reads from the beginning of the log.
func LoadEvents(ctx context.Context, db *gorm.DB, from, to time.Time) ([]RawEvent, error) {
	query := db.WithContext(ctx).Model(&RawEvent{}).Where("event_timestamp < ?", to.UTC())
	if !from.IsZero() {
		query = query.Where("event_timestamp >= ?", from.UTC())
	}

	var rows []RawEvent
	if err := query.Order("event_timestamp ASC, seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return rows, nil
}

// sessionBatchSize bounds the ids bound into one IN clause.
const sessionBatchSize = 500

// LoadSessionEvents reads every event before until that belongs to one of
// the given sessions, ordered by timestamp then ingestion order.
func LoadSessionEvents(ctx context.Context, db *gorm.DB, sessionIDs []string, until time.Time) ([]RawEvent, error) {
	var rows []RawEvent
	for lo := 0; lo < len(sessionIDs); lo += sessionBatchSize {
		hi := min(lo+sessionBatchSize, len(sessionIDs))

		var batch []RawEvent
		err := db.WithContext(ctx).
			Where("session_id IN ? AND event_timestamp < ?", sessionIDs[lo:hi], until.UTC()).
			Order("event_timestamp ASC, seq ASC").
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load session events: %w", err)
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// LoadIdentityLinks returns every anonymous id observed together with a user
// id before until, earliest sighting first.
func LoadIdentityLinks(ctx context.Context, db *gorm.DB, until time.Time) ([]identity.Link, error) {
	type linkRow struct {
		AnonymousID string
		UserID      string
		FirstSeen   string
	}

	var rows []linkRow
	err := db.WithContext(ctx).Raw(`
		SELECT anonymous_id, user_id, MIN(event_timestamp) AS first_seen
		FROM raw_events
		WHERE anonymous_id IS NOT NULL AND user_id IS NOT NULL
			AND anonymous_id != '' AND user_id != ''
			AND event_timestamp < ?
		GROUP BY anonymous_id, user_id
		ORDER BY first_seen ASC, anonymous_id ASC, user_id ASC
	`, until.UTC()).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load identity links: %w", err)
	}

	links := make([]identity.Link, 0, len(rows))
	for _, r := range rows {
		links = append(links, identity.Link{
			AnonymousID: r.AnonymousID,
			UserID:      r.UserID,
			FirstSeen:   timeframe.ParseStoredTime(r.FirstSeen),
		})
	}
	return links, nil
}

// CountEvents counts the events in [from, to); zero bounds are open.
func CountEvents(db *gorm.DB, from, to time.Time) (int64, error) {
	query := db.Model(&RawEvent{})
	if !from.IsZero() {
		query = query.Where("event_timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("event_timestamp < ?", to.UTC())
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ReferrerCount is the number of events carrying one referrer, with the
// ingestion order of the first of them.
type ReferrerCount struct {
	Referrer string
	Events   int64
	FirstSeq uint
}

// CountReferrers groups the events in [from, to) that carry a referrer by
// referrer. Zero bounds are open.
func CountReferrers(ctx context.Context, db *gorm.DB, from, to time.Time) ([]ReferrerCount, error) {
	query := db.WithContext(ctx).Model(&RawEvent{}).
		Select("referrer, COUNT(*) AS events, MIN(seq) AS first_seq").
		Where("referrer IS NOT NULL AND referrer <> ''")
	if !from.IsZero() {
		query = query.Where("event_timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("event_timestamp < ?", to.UTC())
	}

	var rows []ReferrerCount
	if err := query.Group("referrer").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count referrers: %w", err)
	}
	return rows, nil
}

// FirstEventTime returns the timestamp of the oldest event, zero when the log is empty.
func FirstEventTime(ctx context.Context, db *gorm.DB) (time.Time, error) {
	var rows []RawEvent
	err := db.WithContext(ctx).Model(&RawEvent{}).
		Select("event_timestamp").
		Order("event_timestamp ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read first event: %w", err)
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[0].EventTimestamp.UTC(), nil
}

// endOfTime bounds open-ended reads.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// CountIdentities counts the distinct visitors with an event in [from, to),
// stitching anonymous ids onto the user ids they were linked to before to.
// Zero bounds are open.
func CountIdentities(ctx context.Context, db *gorm.DB, from, to time.Time) (int64, error) {
	type pair struct {
		UserID      *string
		AnonymousID *string
	}

	query := db.WithContext(ctx).Model(&RawEvent{}).Distinct("user_id", "anonymous_id")
	if !from.IsZero() {
		query = query.Where("event_timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("event_timestamp < ?", to.UTC())
	}

	var pairs []pair
	if err := query.Scan(&pairs).Error; err != nil {
		return 0, fmt.Errorf("failed to read identities: %w", err)
	}

	until := to
	if until.IsZero() {
		until = endOfTime
	}
	links, err := LoadIdentityLinks(ctx, db, until)
	if err != nil {
		return 0, err
	}

	resolver := identity.NewResolver(links)
	seen := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		if id, ok := resolver.Resolve(p.UserID, p.AnonymousID); ok {
			seen[id.Key] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}
