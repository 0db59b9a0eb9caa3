package aggregator

import (
	"sort"
	"time"

	"pulse/internal/events"
)

// RankItem is a named count with the position it was first encountered at.
type RankItem struct {
	Name         string
	Count        int64
	FirstSeenAt  time.Time
	FirstSeenSeq uint
}

// RankedEntry is one row of a ranking.
type RankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Rank orders items by count descending, breaking ties by first-seen order,
// and keeps at most limit rows. limit <= 0 yields an empty ranking.
func Rank(items []RankItem, limit int) []RankedEntry {
	if limit <= 0 {
		return []RankedEntry{}
	}

	sorted := make([]RankItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.Before(b.FirstSeenAt)
		}
		if a.FirstSeenSeq != b.FirstSeenSeq {
			return a.FirstSeenSeq < b.FirstSeenSeq
		}
		return a.Name < b.Name
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	ranked := make([]RankedEntry, len(sorted))
	for i, item := range sorted {
		ranked[i] = RankedEntry{Name: item.Name, Count: item.Count}
	}
	return ranked
}

// Counter accumulates counts per name and remembers first-encounter order.
type Counter struct {
	index map[string]int
	items []RankItem
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{index: make(map[string]int)}
}

// Add counts one occurrence of name, seen at the given position.
func (c *Counter) Add(name string, at time.Time, seq uint) {
	if i, ok := c.index[name]; ok {
		c.items[i].Count++
		return
	}
	c.index[name] = len(c.items)
	c.items = append(c.items, RankItem{Name: name, Count: 1, FirstSeenAt: at, FirstSeenSeq: seq})
}

// Items returns the accumulated counts in first-seen order.
func (c *Counter) Items() []RankItem {
	return c.items
}

// Len returns the number of distinct names counted.
func (c *Counter) Len() int {
	return len(c.items)
}

// Rank ranks the accumulated counts.
func (c *Counter) Rank(limit int) []RankedEntry {
	return Rank(c.items, limit)
}

// Dimension extracts the ranked name of an event; ok is false when the event
// does not count for the dimension.
type Dimension func(e *events.RawEvent) (name string, ok bool)

// EventNameDimension ranks every event by name.
func EventNameDimension(e *events.RawEvent) (string, bool) {
	return e.EventName, e.EventName != ""
}

// PagePathDimension ranks page views by path.
func PagePathDimension(e *events.RawEvent) (string, bool) {
	if !e.IsPageView() || e.PagePath == nil || *e.PagePath == "" {
		return "", false
	}
	return *e.PagePath, true
}

// CountryDimension ranks events by country.
func CountryDimension(e *events.RawEvent) (string, bool) {
	if e.Country == nil || *e.Country == "" {
		return "", false
	}
	return *e.Country, true
}

// CountBy counts the given events along a dimension.
func CountBy(evts []events.RawEvent, dim Dimension) *Counter {
	c := NewCounter()
	for i := range evts {
		if name, ok := dim(&evts[i]); ok {
			c.Add(name, evts[i].EventTimestamp, evts[i].Seq)
		}
	}
	return c
}

// TopEvents ranks events by name.
func TopEvents(evts []events.RawEvent, limit int) []RankedEntry {
	return CountBy(evts, EventNameDimension).Rank(limit)
}

// TopPages ranks page views by path.
func TopPages(evts []events.RawEvent, limit int) []RankedEntry {
	return CountBy(evts, PagePathDimension).Rank(limit)
}
