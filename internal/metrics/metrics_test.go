package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulse/internal/metrics"
)

func TestRatios(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(a, b int64) float64
		a, b     int64
		expected float64
	}{
		{"stickiness zero mau", metrics.Stickiness, 25, 0, 0},
		{"stickiness zero mau zero dau", metrics.Stickiness, 0, 0, 0},
		{"stickiness third", metrics.Stickiness, 1, 3, 33.33},
		{"stickiness two thirds", metrics.Stickiness, 2, 3, 66.67},
		{"stickiness full", metrics.Stickiness, 40, 40, 100},
		{"retention empty cohort", metrics.RetentionRate, 0, 5, 0},
		{"retention eighth", metrics.RetentionRate, 8, 1, 12.5},
		{"conversion from zero", metrics.ConversionRate, 0, 7, 0},
		{"conversion half", metrics.ConversionRate, 10, 5, 50},
		{"conversion sixth", metrics.ConversionRate, 6, 1, 16.67},
		{"bounce none", metrics.BounceRate, 0, 0, 0},
		{"bounce quarter", metrics.BounceRate, 4, 1, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.fn(tt.a, tt.b))
		})
	}
}

func TestGrowthRate(t *testing.T) {
	assert.Equal(t, metrics.Growth{Value: 120, Change: 20, ChangePercent: 20}, metrics.GrowthRate(120, 100))
	assert.Equal(t, metrics.Growth{Value: 80, Change: -20, ChangePercent: -20}, metrics.GrowthRate(80, 100))
	assert.Equal(t, metrics.Growth{Value: 15, Change: 15, ChangePercent: 0}, metrics.GrowthRate(15, 0))
	assert.Equal(t, metrics.Growth{Value: 1, Change: -2, ChangePercent: -66.67}, metrics.GrowthRate(1, 3))
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}

	assert.Equal(t, 3.0, metrics.Percentile(values, 50))
	assert.Equal(t, 5.0, metrics.Percentile(values, 90))
	assert.Equal(t, 5.0, metrics.Percentile(values, 100))
	assert.Equal(t, 1.0, metrics.Percentile(values, 1))
	assert.Equal(t, 0.0, metrics.Percentile(nil, 50))
	assert.Equal(t, 0.0, metrics.Percentile([]float64{}, 95))

	// out of range p is clamped rather than indexing outside the slice
	assert.Equal(t, 1.0, metrics.Percentile(values, 0))
	assert.Equal(t, 5.0, metrics.Percentile(values, 250))

	// input order untouched
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values)
}

func TestEngagementScore(t *testing.T) {
	tests := []struct {
		name     string
		sessions int64
		avg      float64
		days     float64
		expected int
	}{
		{"maximum", 30, 600, 0, 100},
		{"nothing recent", 0, 0, 45, 0},
		{"mixed", 5, 125, 10, 43},
		{"rounds half up", 1, 5, 29, 4},
		{"negative days clamped", 20, 300, -10, 100},
		{"negative duration clamped", 2, -50, 30, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := metrics.EngagementScore(tt.sessions, tt.avg, tt.days)
			assert.Equal(t, tt.expected, score)
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		})
	}
}

func TestRetentionCurve(t *testing.T) {
	rows := []metrics.CurvePoint{
		{DaysSinceCohort: 0, RetentionRate: 100},
		{DaysSinceCohort: 1, RetentionRate: 60},
		{DaysSinceCohort: 3, RetentionRate: 25},
		{DaysSinceCohort: 9, RetentionRate: 10},
		{DaysSinceCohort: -1, RetentionRate: 50},
	}

	assert.Equal(t, []float64{100, 60, 0, 25}, metrics.RetentionCurve(rows, 3))
	assert.Len(t, metrics.RetentionCurve(nil, 30), 31)
	assert.Empty(t, metrics.RetentionCurve(rows, -1))
}

func TestRetentionRateNonIncreasingForDecayingCohort(t *testing.T) {
	retained := []int64{50, 31, 20, 20, 7, 1, 0}
	previous := 100.0
	for day, r := range retained {
		rate := metrics.RetentionRate(50, r)
		assert.LessOrEqual(t, rate, previous, "day %d", day)
		previous = rate
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:             "0",
		999:           "999",
		1000:          "1.0K",
		1540:          "1.5K",
		2_500_000:     "2.5M",
		1_000_000_000: "1.0B",
		7_260_000_000: "7.3B",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, metrics.FormatNumber(in), "input %v", in)
	}
}

func TestFormatSessionDuration(t *testing.T) {
	assert.Equal(t, "0m 0s", metrics.FormatSessionDuration(0))
	assert.Equal(t, "2m 5s", metrics.FormatSessionDuration(125))
	assert.Equal(t, "61m 1s", metrics.FormatSessionDuration(3661))
}
