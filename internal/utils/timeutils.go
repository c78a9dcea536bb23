package utils

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and the space-separated variants common in
// log exports. Values without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", value)
}

// FormatClock renders the wall-clock part of t in UTC, e.g. "14:35:22".
func FormatClock(t time.Time) string {
	return t.UTC().Format("15:04:05")
}

// FormatDuration renders seconds as "45s", "2m 15s" or "1h 5m".
func FormatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", int(seconds))
	case seconds < 3600:
		total := int(seconds)
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		total := int(seconds)
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}
