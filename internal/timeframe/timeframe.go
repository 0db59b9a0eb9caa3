package timeframe

import (
	"fmt"
	"time"

	"pulse/internal/errs"
)

// Grain is the bucket size used for active-user counting and session rollups.
type Grain string

const (
	GrainDay   Grain = "day"
	GrainWeek  Grain = "week"
	GrainMonth Grain = "month"
)

// AllGrains lists the supported grains, finest first.
var AllGrains = []Grain{GrainDay, GrainWeek, GrainMonth}

// ParseGrain validates a grain name.
func ParseGrain(s string) (Grain, error) {
	switch Grain(s) {
	case GrainDay, GrainWeek, GrainMonth:
		return Grain(s), nil
	}
	return "", errs.NewValidationError("grain", fmt.Sprintf("unsupported grain %q", s))
}

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always reports the same instant. Used by tests and by
// backfills that evaluate completeness as of a given moment.
type FixedTimeProvider struct {
	At time.Time
}

func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.At.In(loc)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodStart returns the start of the period containing t. Weeks start on Monday.
func PeriodStart(t time.Time, grain Grain) time.Time {
	day := StartOfDay(t)
	switch grain {
	case GrainWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GrainMonth:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

// PeriodEnd returns the exclusive end of the period starting at start.
func PeriodEnd(start time.Time, grain Grain) time.Time {
	switch grain {
	case GrainWeek:
		return start.AddDate(0, 0, 7)
	case GrainMonth:
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// IsComplete reports whether the period starting at start has fully elapsed at asOf.
func IsComplete(start time.Time, grain Grain, asOf time.Time) bool {
	return !PeriodEnd(start, grain).After(asOf)
}

// Window is a half-open UTC interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window, rejecting empty or inverted bounds.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate checks the window bounds.
func (w Window) Validate() error {
	if w.Start.IsZero() {
		return errs.NewValidationError("start", "is required")
	}
	if w.End.IsZero() {
		return errs.NewValidationError("end", "is required")
	}
	if !w.End.After(w.Start) {
		return errs.NewValidationError("end", "must be after start")
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Periods returns the start of every grain period overlapping the window.
func (w Window) Periods(grain Grain) []time.Time {
	var periods []time.Time
	for start := PeriodStart(w.Start, grain); start.Before(w.End); start = PeriodEnd(start, grain) {
		periods = append(periods, start)
	}
	return periods
}

// Expand widens the window to whole periods of the given grain.
func (w Window) Expand(grain Grain) Window {
	start := PeriodStart(w.Start, grain)
	end := PeriodStart(w.End, grain)
	if end.Before(w.End) {
		end = PeriodEnd(end, grain)
	}
	return Window{Start: start, End: end}
}

// DayWindow returns the window covering the UTC day of t.
func DayWindow(t time.Time) Window {
	start := StartOfDay(t)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// DaysBetween returns the number of whole UTC days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}
