package timeframe

import (
	"fmt"
	"strings"
	"time"

	"pulse/internal/errs"
)

// DateLayout is the calendar date format accepted on query parameters.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, errs.NewValidationError(field, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", value))
	}
	return t, nil
}

// ParseDateOrTime accepts either a YYYY-MM-DD date or an RFC3339 timestamp.
func ParseDateOrTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) == len(DateLayout) {
		return ParseDate(field, value)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errs.NewValidationError(field, fmt.Sprintf("invalid timestamp %q", value))
	}
	return t.UTC(), nil
}

// RangeParams are the optional date bounds of a query.
type RangeParams struct {
	StartDate string
	EndDate   string
}

// ParseRange converts optional start and end dates into a window. The end date
// is inclusive: a range ending on 2025-01-31 covers that whole day. Missing
// bounds fall back to the given defaults.
func ParseRange(params RangeParams, defaultStart, defaultEnd time.Time) (Window, error) {
	start := defaultStart
	end := defaultEnd

	if params.StartDate != "" {
		t, err := ParseDateOrTime("start_date", params.StartDate)
		if err != nil {
			return Window{}, err
		}
		start = t
	}
	if params.EndDate != "" {
		t, err := ParseDateOrTime("end_date", params.EndDate)
		if err != nil {
			return Window{}, err
		}
		if len(strings.TrimSpace(params.EndDate)) == len(DateLayout) {
			t = t.AddDate(0, 0, 1)
		}
		end = t
	}

	if !end.After(start) {
		return Window{}, errs.NewValidationError("end_date", "must not be before start_date")
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// storedTimeLayouts are the text forms sqlite hands back for datetime values
// that went through an aggregate function.
var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	DateLayout,
}

// ParseStoredTime parses a datetime read back as text, zero when unparseable.
func ParseStoredTime(s string) time.Time {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
