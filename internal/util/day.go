package util

import "time"

// DayOpen returns the local midnight (00:00) for now in loc. The trading day
// for daily-loss accounting runs from one local midnight to the next.
func DayOpen(loc *time.Location, now time.Time) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// NextDayOpen returns the next local midnight after now in loc.
func NextDayOpen(loc *time.Location, now time.Time) time.Time {
	return DayOpen(loc, now).AddDate(0, 0, 1)
}

// SameTradingDay reports whether a and b fall on the same local day in loc.
func SameTradingDay(loc *time.Location, a, b time.Time) bool {
	return DayOpen(loc, a).Equal(DayOpen(loc, b))
}
