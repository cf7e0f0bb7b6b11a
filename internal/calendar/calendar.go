// Package calendar counts working days for ideal-burndown math. A business
// day is a Monday-Friday date that is not a recognized holiday.
package calendar

import "time"

// HolidayLookup answers whether a given date is a non-working holiday.
// Supplied as a collaborator so holiday sources stay swappable in tests.
type HolidayLookup interface {
	IsHoliday(d time.Time) bool
}

// HolidaySet is a HolidayLookup backed by a fixed set of dates.
type HolidaySet map[string]struct{}

const dayFormat = "2006-01-02"

// NewHolidaySet builds a set from YYYY-MM-DD strings, ignoring entries
// that do not parse.
func NewHolidaySet(dates []string) HolidaySet {
	hs := HolidaySet{}
	for _, d := range dates {
		if _, err := time.Parse(dayFormat, d); err != nil {
			continue
		}
		hs[d] = struct{}{}
	}
	return hs
}

func (hs HolidaySet) IsHoliday(d time.Time) bool {
	_, ok := hs[d.Format(dayFormat)]
	return ok
}

// None is an empty holiday calendar.
var None HolidayLookup = HolidaySet{}

// CountBusinessDays counts business days in the half-open range
// [start, end). Returns 0 when start >= end.
func CountBusinessDays(start, end time.Time, holidays HolidayLookup) int {
	start = dateOf(start)
	end = dateOf(end)
	if !start.Before(end) {
		return 0
	}
	days := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if holidays != nil && holidays.IsHoliday(d) {
			continue
		}
		days++
	}
	return days
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
