package events

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusUpcoming    Status = "Upcoming"
	StatusOngoing     Status = "Ongoing"
	StatusCompleted   Status = "Completed"
	StatusCancelled   Status = "Cancelled"
	StatusRegistered  Status = "Registered"
	StatusClaimReward Status = "Claim Reward"
)

// Persisted event states. Only "cancelled" is authoritative; the others are
// refreshed from the time window by the status sweeper.
const (
	StateUpcoming  = "upcoming"
	StateOngoing   = "ongoing"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
)

const dateLayout = "2006-01-02"

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*([AaPp][Mm])$`)

// ParseClock parses "h:mm AM/PM" into hour and minute on a 24 hour clock.
func ParseClock(value string) (int, int, bool) {
	match := clockPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(match[1])
	if err != nil || hour < 1 || hour > 12 {
		return 0, 0, false
	}
	minute, err := strconv.Atoi(match[2])
	if err != nil || minute > 59 {
		return 0, 0, false
	}
	pm := strings.EqualFold(match[3], "pm")
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}
	return hour, minute, true
}

// ParseDate accepts YYYY-MM-DD, optionally followed by a time part as in
// RFC 3339 timestamps.
func ParseDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if len(value) > len(dateLayout) {
		value = value[:len(dateLayout)]
	}
	day, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// Bounds resolves the start and end instants of an event. An end at or before
// the start is taken to cross midnight.
func Bounds(date string, window Window, loc *time.Location) (time.Time, time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(window.Start) == "" || strings.TrimSpace(window.End) == "" {
		return time.Time{}, time.Time{}, false
	}
	day, ok := ParseDate(date, loc)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	startHour, startMinute, ok := ParseClock(window.Start)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	endHour, endMinute, ok := ParseClock(window.End)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startHour, startMinute, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), endHour, endMinute, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, true
}

// Phase classifies the event by its time window alone. Events without a
// parseable window stay Upcoming.
func Phase(ev *Event, now time.Time, loc *time.Location) Status {
	if ev.State == StateCancelled {
		return StatusCancelled
	}
	start, end, ok := Bounds(ev.Date, ev.Time, loc)
	if !ok {
		return StatusUpcoming
	}
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.After(end):
		return StatusCompleted
	default:
		return StatusOngoing
	}
}

// StatusFor derives the status shown to userID. An empty userID yields the
// plain phase.
func StatusFor(ev *Event, now time.Time, userID string, loc *time.Location) Status {
	phase := Phase(ev, now, loc)
	if userID == "" || !ev.IsRegistered(userID) {
		return phase
	}
	switch phase {
	case StatusUpcoming:
		return StatusRegistered
	case StatusCompleted:
		if ev.HasClaimed(userID) {
			return StatusCompleted
		}
		if ev.Finalized && ev.HasAttended(userID) {
			return StatusClaimReward
		}
		return StatusCompleted
	default:
		return phase
	}
}

// State maps a phase onto the persisted state column.
func State(phase Status) string {
	switch phase {
	case StatusOngoing:
		return StateOngoing
	case StatusCompleted:
		return StateCompleted
	case StatusCancelled:
		return StateCancelled
	default:
		return StateUpcoming
	}
}
