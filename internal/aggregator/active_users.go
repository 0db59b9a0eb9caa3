package aggregator

import (
	"time"

	"pulse/internal/timeframe"
)

// ActiveUserCount is the number of distinct identities active in one period.
type ActiveUserCount struct {
	Grain       timeframe.Grain
	PeriodStart time.Time
	Total       int64
	Identified  int64
	Anonymous   int64
}

// CountActiveUsers counts distinct identities with at least one event in the
// period starting at periodStart. Events without any identifier are ignored.
func CountActiveUsers(snap *Snapshot, periodStart time.Time, grain timeframe.Grain) ActiveUserCount {
	start := timeframe.PeriodStart(periodStart, grain)
	end := timeframe.PeriodEnd(start, grain)

	seen := make(map[string]bool)
	evts := snap.Range(start, end)
	for i := range evts {
		id, ok := snap.Resolve(&evts[i])
		if !ok {
			continue
		}
		seen[id.Key] = id.Identified
	}

	count := ActiveUserCount{Grain: grain, PeriodStart: start}
	for _, identified := range seen {
		if identified {
			count.Identified++
		} else {
			count.Anonymous++
		}
	}
	count.Total = count.Identified + count.Anonymous
	return count
}
