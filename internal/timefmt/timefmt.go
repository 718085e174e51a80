// Package timefmt parses the time strings RouterOS prints for uptimes,
// lease last-seen values and logout times.
//
// Two grammars are accepted. Absolute timestamps look like
// "jan/02/2024 15:04:05" (the year may be omitted) or, on newer firmware,
// "2024-01-02 15:04:05". Relative durations combine weeks and days with
// either a clock fragment or unit fragments: "1w2d03:04:05", "3h4m5s",
// "500ms". A relative value is taken to mean that long before now.
package timefmt

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	absoluteRe = regexp.MustCompile(`^([a-z]{3})/(\d{1,2})(?:/(\d{4}))?\s+(\d{1,2}):(\d{2}):(\d{2})$`)
	relativeRe = regexp.MustCompile(
		`^(?:(\d+)w)?(?:(\d+)d)?(?:(\d{1,2}):(\d{2}):(\d{2})|(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?(?:(\d+)ms)?)$`)
)

const isoLayout = "2006-01-02 15:04:05"

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// Parse converts s into an absolute time using now as the reference. It
// reports false for empty input, "never", and anything it cannot parse.
func Parse(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "never" {
		return time.Time{}, false
	}

	if m := absoluteRe.FindStringSubmatch(s); m != nil {
		return parseAbsolute(m, now)
	}
	if t, err := time.ParseInLocation(isoLayout, s, now.Location()); err == nil {
		return t, true
	}
	if d, ok := ParseDuration(s); ok {
		return now.Add(-d), true
	}
	return time.Time{}, false
}

// ParseDuration parses a RouterOS relative duration such as "2w3d04:05:06"
// or "1h2m3s".
func ParseDuration(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "never" {
		return 0, false
	}
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	units := []struct {
		group int
		unit  time.Duration
		max   int64 // exclusive upper bound, 0 for none
	}{
		{1, 7 * 24 * time.Hour, 0},
		{2, 24 * time.Hour, 0},
		{3, time.Hour, 0},
		{4, time.Minute, 60},
		{5, time.Second, 60},
		{6, time.Hour, 0},
		{7, time.Minute, 0},
		{8, time.Second, 0},
		{9, time.Millisecond, 0},
	}

	var total time.Duration
	for _, u := range units {
		if m[u.group] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[u.group], 10, 64)
		if err != nil || (u.max > 0 && n >= u.max) {
			return 0, false
		}
		if n > int64(maxDuration/u.unit) {
			return 0, false
		}
		d := time.Duration(n) * u.unit
		if total > maxDuration-d {
			return 0, false
		}
		total += d
	}
	return total, true
}

const maxDuration = time.Duration(1<<63 - 1)

func parseAbsolute(m []string, now time.Time) (time.Time, bool) {
	month, ok := months[m[1]]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	year := now.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	sec, _ := strconv.Atoi(m[6])
	if hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, month, day, hour, minute, sec, 0, now.Location())
	// time.Date normalises feb/30 into march; reject it instead.
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
