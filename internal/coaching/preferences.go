package coaching

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

var ErrInvalidPreferences = errors.New("coaching: invalid call preferences")

// Weekdays lists the preference keys in calendar order.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayPreference controls whether and when a user may be called on one weekday.
type DayPreference struct {
	Enabled        bool  `json:"enabled"`
	AvailableHours []int `json:"availableHours"`
}

// Allows reports whether a call may start during the given local hour.
func (d DayPreference) Allows(hour int) bool {
	if !d.Enabled {
		return false
	}
	for _, h := range d.AvailableHours {
		if h == hour {
			return true
		}
	}
	return false
}

// CallPreferences maps lowercase weekday names to day preferences.
type CallPreferences map[string]DayPreference

// Allows reports whether the weekday/hour pair is inside the user's window.
// A missing day entry is treated as not callable.
func (p CallPreferences) Allows(day string, hour int) bool {
	d, ok := p[day]
	if !ok {
		return false
	}
	return d.Allows(hour)
}

// DecodeCallPreferences decodes a stored preference map. A malformed map
// decodes to nil, which no weekday/hour pair is allowed by.
func DecodeCallPreferences(raw []byte) (CallPreferences, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p CallPreferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	return p, nil
}

// Normalize validates day names and hours, and returns a copy with hours
// deduplicated and sorted.
func (p CallPreferences) Normalize() (CallPreferences, error) {
	out := make(CallPreferences, len(p))
	for day, pref := range p {
		key := strings.ToLower(strings.TrimSpace(day))
		if !isWeekday(key) {
			return nil, fmt.Errorf("%w: unknown day %q", ErrInvalidPreferences, day)
		}
		seen := make(map[int]struct{}, len(pref.AvailableHours))
		hours := make([]int, 0, len(pref.AvailableHours))
		for _, h := range pref.AvailableHours {
			if h < 0 || h > 23 {
				return nil, fmt.Errorf("%w: hour %d out of range for %s", ErrInvalidPreferences, h, key)
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			hours = append(hours, h)
		}
		sort.Ints(hours)
		out[key] = DayPreference{Enabled: pref.Enabled, AvailableHours: hours}
	}
	return out, nil
}

// DayName returns the lowercase English weekday of t in t's location.
func DayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// ResolveLocation loads an IANA timezone, falling back to UTC for empty or
// unknown names. It never fails.
func ResolveLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isWeekday(s string) bool {
	for _, d := range Weekdays {
		if d == s {
			return true
		}
	}
	return false
}
