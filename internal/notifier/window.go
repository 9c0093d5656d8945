package notifier

import (
	"fmt"
	"strings"
	"time"
)

// WindowPolicy selects which records a delivery pass considers new.
type WindowPolicy string

const (
	// PolicyDay covers the strict calendar day containing the reference
	// instant: [00:00, 24:00) in the reference timezone.
	PolicyDay WindowPolicy = "day"
	// PolicySince covers everything created at or after the start of the
	// reference day, open-ended.
	PolicySince WindowPolicy = "since"
)

// ParsePolicy validates a config string. Empty means the default.
func ParsePolicy(s string) (WindowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyDay):
		return PolicyDay, nil
	case string(PolicySince):
		return PolicySince, nil
	default:
		return "", fmt.Errorf("unknown window policy %q (want %q or %q)", s, PolicyDay, PolicySince)
	}
}

// DayWindow returns the bounds of the calendar day containing ref in loc.
// The upper bound is exclusive.
func DayWindow(ref time.Time, loc *time.Location) (from, to time.Time) {
	r := ref.In(loc)
	from = time.Date(r.Year(), r.Month(), r.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

// bounds maps a policy and reference instant to the pass's record window.
// A zero upper bound means open-ended.
func bounds(policy WindowPolicy, ref time.Time, loc *time.Location) (from, to time.Time) {
	from, to = DayWindow(ref, loc)
	if policy == PolicySince {
		to = time.Time{}
	}
	return from, to
}
