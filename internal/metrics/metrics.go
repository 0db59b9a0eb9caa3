// Package metrics holds the derived-metric formulas shared by the aggregator
// and the query layer. Every function is pure and returns a defined value for
// degenerate input.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Growth is the comparison of a metric between two periods.
type Growth struct {
	Value         int64   `json:"value"`
	Change        int64   `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// CurvePoint is one retention entry fed into RetentionCurve.
type CurvePoint struct {
	DaysSinceCohort int
	RetentionRate   float64
}

// Round2 rounds half away from zero at the hundredths place.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// percent returns num/den as a percentage with two decimals, 0 when den is 0.
func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}

// Stickiness is the DAU/MAU ratio as a percentage.
func Stickiness(dau, mau int64) float64 {
	return percent(dau, mau)
}

// RetentionRate is the share of a cohort active again on a given day.
func RetentionRate(cohortSize, retained int64) float64 {
	return percent(retained, cohortSize)
}

// ConversionRate is the share of the previous funnel step that reached the current one.
func ConversionRate(prevStep, currStep int64) float64 {
	return percent(currStep, prevStep)
}

// BounceRate is the share of sessions that bounced.
func BounceRate(totalSessions, bounced int64) float64 {
	return percent(bounced, totalSessions)
}

// GrowthRate compares current against previous. ChangePercent is 0 when there
// is no previous value to compare against.
func GrowthRate(current, previous int64) Growth {
	change := current - previous
	return Growth{
		Value:         current,
		Change:        change,
		ChangePercent: percent(change, previous),
	}
}

// Percentile returns the nearest-rank percentile of values. The input slice is
// not modified.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	index := int(math.Ceil(p/100*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

// EngagementScore scores a visitor from 0 to 100 by frequency (up to 40),
// session length (up to 30) and recency (up to 30). Negative inputs count as 0.
func EngagementScore(sessionCount int64, avgSessionDuration, daysSinceLastSession float64) int {
	if sessionCount < 0 {
		sessionCount = 0
	}
	avgSessionDuration = math.Max(avgSessionDuration, 0)
	daysSinceLastSession = math.Max(daysSinceLastSession, 0)

	frequency := math.Min(float64(sessionCount)*2, 40)
	duration := math.Min(avgSessionDuration/10, 30)
	recency := math.Max(30-daysSinceLastSession, 0)

	return int(math.Round(frequency + duration + recency))
}

// RetentionCurve lays out retention rates by day offset, 0..maxDays. Offsets
// without a row stay 0 and rows outside the range are ignored.
func RetentionCurve(rows []CurvePoint, maxDays int) []float64 {
	if maxDays < 0 {
		return []float64{}
	}
	curve := make([]float64, maxDays+1)
	for _, row := range rows {
		if row.DaysSinceCohort < 0 || row.DaysSinceCohort > maxDays {
			continue
		}
		curve[row.DaysSinceCohort] = row.RetentionRate
	}
	return curve
}

// FormatNumber abbreviates large numbers with K, M and B suffixes.
func FormatNumber(n float64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", n/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", n/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", n/1_000)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FormatSessionDuration renders seconds as "<minutes>m <seconds>s".
func FormatSessionDuration(seconds int64) string {
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
