// Package clock provides the pure market-calendar functions used by the
// scheduler and market-data provider: is the market open at instant t,
// when does it next open, and what instant does 09:30 ET correspond to on
// a given calendar date (§4.1).
//
// The holiday set is fixed and intentionally small: New Year's Day,
// Independence Day, and Christmas, each observed as-is with no
// weekend-to-weekday substitution.
package clock

import (
	"fmt"
	"math"
	"time"
)

var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// time/tzdata is not vendored on every platform; fall back to a
		// fixed EST offset rather than fail the whole package at init.
		loc = time.FixedZone("EST", -5*60*60)
	}
	eastern = loc
}

const (
	marketOpenHour    = 9
	marketOpenMinute  = 30
	marketCloseHour   = 16
	marketCloseMinute = 0
)

// ErrInvalidInstant is returned when the input time is not representable
// (NaN/overflow-equivalent for time.Time, i.e. the zero value produced by
// an invalid construction).
type ErrInvalidInstant struct{ reason string }

func (e ErrInvalidInstant) Error() string {
	return fmt.Sprintf("invalid instant: %s", e.reason)
}

func validate(t time.Time) error {
	// time.Time has no NaN representation, but an Unix seconds value that
	// overflows int64 nanoseconds (year far beyond ~292 billion) is the
	// closest analogue to spec.md's "NaN/overflow" failure case.
	if t.Year() > 294000 || t.Year() < -294000 {
		return ErrInvalidInstant{reason: "timestamp out of representable range"}
	}
	return nil
}

// toET converts t to Eastern Time.
func toET(t time.Time) time.Time {
	return t.In(eastern)
}

// ToET returns the broken-down Eastern Time representation of t.
func ToET(t time.Time) (time.Time, error) {
	if err := validate(t); err != nil {
		return time.Time{}, err
	}
	return toET(t), nil
}

var usHolidaysCache = make(map[int][]time.Time)

func usHolidays(year int) []time.Time {
	if cached, ok := usHolidaysCache[year]; ok {
		return cached
	}
	holidays := []time.Time{
		time.Date(year, time.January, 1, 0, 0, 0, 0, eastern),
		time.Date(year, time.July, 4, 0, 0, 0, 0, eastern),
		time.Date(year, time.December, 25, 0, 0, 0, 0, eastern),
	}
	usHolidaysCache[year] = holidays
	return holidays
}

func isHoliday(date time.Time) bool {
	dateStr := date.Format("2006-01-02")
	for _, h := range usHolidays(date.Year()) {
		if h.Format("2006-01-02") == dateStr {
			return true
		}
	}
	return false
}

// IsMarketOpen reports whether the US equity market is open at instant t.
func IsMarketOpen(t time.Time) (bool, error) {
	if err := validate(t); err != nil {
		return false, err
	}
	et := toET(t)

	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false, nil
	}

	dateOnly := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, eastern)
	if isHoliday(dateOnly) {
		return false, nil
	}

	open := time.Date(et.Year(), et.Month(), et.Day(), marketOpenHour, marketOpenMinute, 0, 0, eastern)
	closeT := time.Date(et.Year(), et.Month(), et.Day(), marketCloseHour, marketCloseMinute, 0, 0, eastern)

	if et.Before(open) || !et.Before(closeT) {
		return false, nil
	}
	return true, nil
}

// NextMarketOpen returns the next instant, strictly after t, at which the
// market opens, skipping weekends and the holiday set.
func NextMarketOpen(t time.Time) (time.Time, error) {
	if err := validate(t); err != nil {
		return time.Time{}, err
	}
	et := toET(t)

	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), marketOpenHour, marketOpenMinute, 0, 0, eastern)
	candidate := todayOpen
	if !et.Before(todayOpen) {
		candidate = todayOpen.AddDate(0, 0, 1)
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), marketOpenHour, marketOpenMinute, 0, 0, eastern)
	}

	for {
		if candidate.Weekday() != time.Saturday && candidate.Weekday() != time.Sunday {
			dateOnly := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, eastern)
			if !isHoliday(dateOnly) {
				return candidate, nil
			}
		}
		candidate = candidate.AddDate(0, 0, 1)
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), marketOpenHour, marketOpenMinute, 0, 0, eastern)
	}
}

// ToMarketOpenET returns 09:30 ET on the given calendar date.
func ToMarketOpenET(date time.Time) (time.Time, error) {
	if err := validate(date); err != nil {
		return time.Time{}, err
	}
	et := toET(date)
	return time.Date(et.Year(), et.Month(), et.Day(), marketOpenHour, marketOpenMinute, 0, 0, eastern), nil
}

// IntradayHourToET converts (date, intradayHour) into the corresponding ET
// instant, where intradayHour is the [0, 6.5] market-hours clock from
// §3/GLOSSARY (0 = 09:30 ET, 6.5 = 16:00 ET).
func IntradayHourToET(date time.Time, intradayHour float64) (time.Time, error) {
	open, err := ToMarketOpenET(date)
	if err != nil {
		return time.Time{}, err
	}
	minutes := intradayHour * 60
	return open.Add(time.Duration(math.Round(minutes)) * time.Minute), nil
}
