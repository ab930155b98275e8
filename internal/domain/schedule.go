package domain

import (
	"math"
	"time"
)

// EndFromDuration returns start plus durationMinutes. ok is false when start is unknown.
func EndFromDuration(start *time.Time, durationMinutes int) (time.Time, bool) {
	if !isKnown(start) {
		return time.Time{}, false
	}
	return start.Add(time.Duration(durationMinutes) * time.Minute), true
}

// DurationFromEnd returns (end - start) in minutes. ok is false when either input is unknown.
func DurationFromEnd(start, end *time.Time) (float64, bool) {
	if !isKnown(start) || !isKnown(end) {
		return 0, false
	}
	return float64(end.Sub(*start)) / float64(time.Minute), true
}

// SlackMinutes returns round((dueAt - plannedEnd) / 1m). ok is false when either input is missing.
func SlackMinutes(dueAt, plannedEnd *time.Time) (int, bool) {
	if !isKnown(dueAt) || !isKnown(plannedEnd) {
		return 0, false
	}
	return int(math.Round(dueAt.Sub(*plannedEnd).Minutes())), true
}
