package scheduling

import "time"

// slotMinute maps a minute-of-hour to the next quarter-hour boundary.
// nextHour is true when the slot rolls over to :00 of the following hour.
func slotMinute(m int) (minute int, nextHour bool) {
	switch {
	case m < 15:
		return 15, false
	case m < 30:
		return 30, false
	case m < 45:
		return 45, false
	default:
		return 0, true
	}
}

// NextSlot rounds now up to the next quarter-hour in loc, with seconds zeroed.
// An exact boundary (e.g. 09:00) still moves forward to the following slot.
func NextSlot(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)

	minute, next := slotMinute(local.Minute())
	if next {
		// Absolute addition keeps DST transitions correct.
		return hour.Add(time.Hour)
	}
	return hour.Add(time.Duration(minute) * time.Minute)
}
