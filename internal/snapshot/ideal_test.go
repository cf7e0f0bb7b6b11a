package snapshot

import (
	"testing"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/calendar"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func TestIdealRemaining_Boundaries(t *testing.T) {
	start := day(t, "2025-08-04") // Monday
	due := day(t, "2025-08-08")   // Friday

	if got := IdealRemaining(&start, &due, start, 40, calendar.None); got != 40 {
		t.Errorf("at window start: got %g, want full scope 40", got)
	}
	if got := IdealRemaining(&start, &due, due, 40, calendar.None); got != 0 {
		t.Errorf("at due date: got %g, want 0", got)
	}
	if got := IdealRemaining(&start, &due, due.AddDate(0, 0, 10), 40, calendar.None); got != 0 {
		t.Errorf("past due date: got %g, want 0", got)
	}
}

func TestIdealRemaining_LinearMidWindow(t *testing.T) {
	start := day(t, "2025-08-04")
	due := day(t, "2025-08-08") // 4 business days total

	// One business day elapsed: 3/4 of the scope should remain.
	if got := IdealRemaining(&start, &due, day(t, "2025-08-05"), 40, calendar.None); got != 30 {
		t.Errorf("after one day: got %g, want 30", got)
	}
}

func TestIdealRemaining_HolidayAware(t *testing.T) {
	start := day(t, "2025-08-04")
	due := day(t, "2025-08-08")
	hs := calendar.NewHolidaySet([]string{"2025-08-06"}) // 3 business days total

	// One elapsed business day (Mon): 2/3 of the scope remains.
	if got := IdealRemaining(&start, &due, day(t, "2025-08-05"), 30, hs); got != 20 {
		t.Errorf("after one of three business days: got %g, want 20", got)
	}

	// Wednesday is a holiday: both Wed and Thu see the same two elapsed
	// days (Mon, Tue), so the holiday contributes no burn.
	wed := IdealRemaining(&start, &due, day(t, "2025-08-06"), 30, hs)
	thu := IdealRemaining(&start, &due, day(t, "2025-08-07"), 30, hs)
	if wed != thu {
		t.Errorf("holiday should contribute no burn: wed=%g thu=%g", wed, thu)
	}
	if wed != 10 {
		t.Errorf("after two of three business days: got %g, want 10", wed)
	}
}

func TestIdealRemaining_MissingOrDegenerateWindow(t *testing.T) {
	start := day(t, "2025-08-04")
	if got := IdealRemaining(nil, &start, start, 40, calendar.None); got != 0 {
		t.Errorf("missing start: got %g, want 0", got)
	}
	if got := IdealRemaining(&start, nil, start, 40, calendar.None); got != 0 {
		t.Errorf("missing due: got %g, want 0", got)
	}
	// Window with zero business days (weekend only).
	sat := day(t, "2025-08-09")
	mon := day(t, "2025-08-11")
	if got := IdealRemaining(&sat, &mon, sat, 40, calendar.None); got != 0 {
		t.Errorf("zero business-day window: got %g, want 0", got)
	}
}

func TestIdealRemainingByDueDate_IsScopePassthrough(t *testing.T) {
	if got := IdealRemainingByDueDate(day(t, "2025-08-04"), 55); got != 55 {
		t.Errorf("release mode: got %g, want unchanged scope 55", got)
	}
}
