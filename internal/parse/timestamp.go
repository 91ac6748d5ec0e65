package parse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var vendorLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"2006-01",
	"200601",
}

// VendorTime parses the date formats remote services use for assembly dates.
// Values without a zone are read in loc. Pure digit strings longer than eight
// characters are Unix milliseconds.
func VendorTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}

	if len(s) > 8 {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).In(loc), nil
		}
	}
	for _, layout := range vendorLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", raw)
}

// VendorDate normalizes a remote date to YYYY-MM-DD, or returns raw unchanged
// when it cannot be parsed.
func VendorDate(raw string, loc *time.Location) string {
	t, err := VendorTime(raw, loc)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return t.In(loc).Format("2006-01-02")
}

// DayBounds returns the first and last instant of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
