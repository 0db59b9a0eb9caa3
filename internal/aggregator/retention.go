package aggregator

import (
	"sort"
	"time"

	"pulse/internal/metrics"
	"pulse/internal/timeframe"
)

// RetentionEntry is the retention of one cohort on one day offset.
type RetentionEntry struct {
	CohortDate      time.Time
	DaysSinceCohort int
	CohortSize      int64
	RetainedUsers   int64
	RetentionRate   float64
}

// ComputeRetention builds retention entries for the cohorts first seen in
// [cohortFrom, cohortTo). The snapshot must reach back to the start of the
// log, since cohort membership depends on each identity's first-ever event.
// Only offsets whose day has fully elapsed at asOf are emitted, so an
// in-progress day never produces an entry.
func ComputeRetention(snap *Snapshot, cohortFrom, cohortTo time.Time, maxDays int, asOf time.Time) []RetentionEntry {
	firstSeen := make(map[string]time.Time)
	activeDays := make(map[time.Time]map[string]struct{})

	all := snap.Events()
	for i := range all {
		id, ok := snap.Resolve(&all[i])
		if !ok {
			continue
		}
		day := timeframe.StartOfDay(all[i].EventTimestamp)
		if _, seen := firstSeen[id.Key]; !seen {
			firstSeen[id.Key] = day
		}
		active, ok := activeDays[day]
		if !ok {
			active = make(map[string]struct{})
			activeDays[day] = active
		}
		active[id.Key] = struct{}{}
	}

	cohorts := make(map[time.Time][]string)
	for key, day := range firstSeen {
		if day.Before(cohortFrom) || !day.Before(cohortTo) {
			continue
		}
		cohorts[day] = append(cohorts[day], key)
	}

	dates := make([]time.Time, 0, len(cohorts))
	for day := range cohorts {
		dates = append(dates, day)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var entries []RetentionEntry
	for _, cohortDate := range dates {
		members := cohorts[cohortDate]
		size := int64(len(members))
		for d := 0; d <= maxDays; d++ {
			day := cohortDate.AddDate(0, 0, d)
			if !timeframe.IsComplete(day, timeframe.GrainDay, asOf) {
				break
			}
			var retained int64
			if d == 0 {
				retained = size
			} else {
				active := activeDays[day]
				for _, key := range members {
					if _, ok := active[key]; ok {
						retained++
					}
				}
			}
			entries = append(entries, RetentionEntry{
				CohortDate:      cohortDate,
				DaysSinceCohort: d,
				CohortSize:      size,
				RetainedUsers:   retained,
				RetentionRate:   metrics.RetentionRate(size, retained),
			})
		}
	}
	return entries
}
