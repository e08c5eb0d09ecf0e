// Package daycount measures elapsed time between two calendar dates under
// the 252 business-day and 365 calendar-day conventions.
//
// The 252 convention is an approximation: business days are estimated as
// calendarDays * 252/365, rounded half away from zero. No holiday or weekend
// calendar is consulted.
package daycount

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrInvalidRange is returned when endDate is not strictly after startDate.
	ErrInvalidRange = errors.New("daycount: end date must be after start date")

	// ErrUnsupportedBase is returned for a day-count base other than 252 or 365.
	ErrUnsupportedBase = errors.New("daycount: unsupported day-count base")
)

var businessDayRatio = decimal.NewFromInt(252).Div(decimal.NewFromInt(365))

// Date truncates t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalendarDays returns endDate - startDate in whole days (start inclusive,
// end exclusive).
func CalendarDays(start, end time.Time) (int, error) {
	s, e := Date(start), Date(end)
	if !e.After(s) {
		return 0, fmt.Errorf("%w: %s..%s", ErrInvalidRange,
			s.Format(time.DateOnly), e.Format(time.DateOnly))
	}
	// Both are UTC midnights, so the division is exact.
	return int(e.Sub(s).Hours() / 24), nil
}

// EstimateBusinessDays converts a calendar-day count into the approximate
// number of business days under a 252-day year.
func EstimateBusinessDays(calendarDays int) int {
	return int(decimal.NewFromInt(int64(calendarDays)).Mul(businessDayRatio).Round(0).IntPart())
}

// ElapsedUnits returns the elapsed periods between start and end under base:
// calendar days for 365, estimated business days for 252.
func ElapsedUnits(start, end time.Time, base model.DayCountBase) (int, error) {
	days, err := CalendarDays(start, end)
	if err != nil {
		return 0, err
	}
	switch base {
	case model.Base365:
		return days, nil
	case model.Base252:
		return EstimateBusinessDays(days), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBase, base)
	}
}

// AddMonths adds n calendar months to t, clamping to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// WholeMonths counts monthly anniversaries of start reached on or before end,
// and returns the date of the last anniversary reached (start itself when
// none is).
func WholeMonths(start, end time.Time) (int, time.Time) {
	s, e := Date(start), Date(end)
	months := 0
	last := s
	for {
		next := AddMonths(s, months+1)
		if next.After(e) {
			return months, last
		}
		months++
		last = next
	}
}
