package snapshot

import (
	"time"

	"github.com/kiririmode/redmine-burndown/internal/calendar"
)

// IdealRemaining computes the expected remaining hours at targetDate for a
// strictly linear burn of initialScope across the business days in
// [start, due). Weekends and holidays carry no expected burn. Returns 0
// when either window boundary is absent or the window holds no business
// days.
func IdealRemaining(start, due *time.Time, targetDate time.Time, initialScope float64, holidays calendar.HolidayLookup) float64 {
	if start == nil || due == nil {
		return 0
	}
	total := calendar.CountBusinessDays(*start, *due, holidays)
	if total <= 0 {
		return 0
	}
	upTo := targetDate
	if upTo.After(*due) {
		upTo = *due
	}
	elapsed := calendar.CountBusinessDays(*start, upTo, holidays)
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	ideal := initialScope * float64(remaining) / float64(total)
	if ideal < 0 {
		return 0
	}
	return ideal
}

// IdealRemainingByDueDate is the release-mode counterpart. Releases carry
// no start date, so no linear interpolation is defined; the scope is
// returned unchanged until a start reference is specified.
func IdealRemainingByDueDate(targetDate time.Time, scopeHours float64) float64 {
	return scopeHours
}
