package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range for balance and closing queries
// =============================================================================

// Period is an inclusive civil-date range [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if the date is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + "]"
}

// MonthPeriod returns the calendar month [first day, last day].
func MonthPeriod(year int, month time.Month) Period {
	start := Date(year, month, 1)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// =============================================================================
// FISCAL CALENDAR - Determines which fiscal year a date falls into
// =============================================================================

// FiscalCalendar maps dates to fiscal years. A fiscal year is named after
// the calendar year in which it ends: with StartMonth April, fiscal year
// 2025 runs 2024-04-01 .. 2025-03-31. StartMonth January is the calendar year.
type FiscalCalendar struct {
	StartMonth time.Month
}

// CalendarYear is the January-start fiscal calendar.
var CalendarYear = FiscalCalendar{StartMonth: time.January}

// Validate checks the start month.
func (fc FiscalCalendar) Validate() error {
	if fc.StartMonth < time.January || fc.StartMonth > time.December {
		return fmt.Errorf("%w: fiscal year start month %d", ErrInvalidInput, fc.StartMonth)
	}
	return nil
}

func (fc FiscalCalendar) startMonth() time.Month {
	if fc.StartMonth == 0 {
		return time.January
	}
	return fc.StartMonth
}

// Year returns the period of the named fiscal year.
func (fc FiscalCalendar) Year(year int) Period {
	m := fc.startMonth()
	startYear := year
	if m != time.January {
		startYear = year - 1
	}
	start := Date(startYear, m, 1)
	return Period{Start: start, End: start.AddDate(1, 0, -1)}
}

// YearOf returns the fiscal year containing date.
func (fc FiscalCalendar) YearOf(date time.Time) int {
	d := Day(date)
	m := fc.startMonth()
	if m == time.January {
		return d.Year()
	}
	if d.Month() >= m {
		return d.Year() + 1
	}
	return d.Year()
}

// PeriodFor returns the fiscal year period containing date.
func (fc FiscalCalendar) PeriodFor(date time.Time) Period {
	return fc.Year(fc.YearOf(date))
}
