package grid

import (
	"time"
)

const daysPerWeek = 7

// Build returns the dates of the month grid containing reference: the whole month padded with
// the trailing days of the previous month so the first row starts on firstWeekday, and with
// days of the next month until the grid fills whole weeks.
// Every date is local midnight in reference's location.
func Build(reference time.Time, firstWeekday time.Weekday) []time.Time {
	loc := reference.Location()
	year, month, _ := reference.Date()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	daysInMonth := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()

	offset := (int(first.Weekday()) - int(firstWeekday) + daysPerWeek) % daysPerWeek
	count := offset + daysInMonth
	if rem := count % daysPerWeek; rem != 0 {
		count += daysPerWeek - rem
	}

	dates := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		// day overflow keeps calendar arithmetic independent of DST
		dates = append(dates, time.Date(year, month, 1-offset+i, 0, 0, 0, 0, loc))
	}
	return dates
}

// MonthStart returns the first day of t's month at local midnight.
func MonthStart(t time.Time) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
}

// AddMonths shifts a month anchor by whole months.
func AddMonths(t time.Time, delta int) time.Time {
	year, month, _ := t.Date()
	return time.Date(year, month+time.Month(delta), 1, 0, 0, 0, 0, t.Location())
}
