package aggregator

import (
	"sort"
	"time"

	"pulse/internal/events"
	"pulse/internal/identity"
)

// Snapshot is the frozen, ordered view of the event log one pass works on.
// It is read-only once built and safe to share between goroutines.
type Snapshot struct {
	events   []events.RawEvent
	resolver *identity.Resolver
}

// NewSnapshot orders events by timestamp, then ingestion order, and builds
// the identity resolver from the given links.
func NewSnapshot(evts []events.RawEvent, links []identity.Link) *Snapshot {
	sorted := make([]events.RawEvent, len(evts))
	copy(sorted, evts)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].EventTimestamp, sorted[j].EventTimestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return &Snapshot{events: sorted, resolver: identity.NewResolver(links)}
}

// Len returns the number of events in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.events)
}

// Events returns all events in order. The slice must not be modified.
func (s *Snapshot) Events() []events.RawEvent {
	return s.events
}

// Range returns the events with from <= timestamp < to, in order.
func (s *Snapshot) Range(from, to time.Time) []events.RawEvent {
	lo := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].EventTimestamp.Before(from)
	})
	hi := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].EventTimestamp.Before(to)
	})
	if lo >= hi {
		return nil
	}
	return s.events[lo:hi]
}

// Resolve returns the identity of an event.
func (s *Snapshot) Resolve(e *events.RawEvent) (identity.Identity, bool) {
	return s.resolver.Resolve(e.UserID, e.AnonymousID)
}
