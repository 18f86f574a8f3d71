package events

import (
	"time"

	"github.com/shopspring/decimal"

	"campuscoin/internal/apperr"
)

// ConfirmationPhrase must accompany a finalize request.
const ConfirmationPhrase = "FINALIZE"

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Attendance string

const (
	AttendanceUnmarked Attendance = ""
	AttendancePresent  Attendance = "present"
	AttendanceAbsent   Attendance = "absent"
)

// Mark actions accepted by Event.Mark.
const (
	ActionPresent = "present"
	ActionAbsent  = "absent"
	ActionToggle  = "toggle"
)

// Event is the lifecycle view of an event: its schedule plus the membership
// sets of its participants.
type Event struct {
	ID        string
	Date      string
	Time      Window
	State     string
	Finalized bool
	Reward    decimal.Decimal

	Registered []string
	Attended   []string
	Absent     []string
	Rewarded   []string
	Claimed    []string
}

func (ev *Event) IsRegistered(id string) bool { return contains(ev.Registered, id) }
func (ev *Event) HasAttended(id string) bool  { return contains(ev.Attended, id) }
func (ev *Event) IsAbsent(id string) bool     { return contains(ev.Absent, id) }
func (ev *Event) IsRewarded(id string) bool   { return contains(ev.Rewarded, id) }
func (ev *Event) HasClaimed(id string) bool   { return contains(ev.Claimed, id) }

func (ev *Event) AttendanceOf(id string) Attendance {
	switch {
	case ev.HasAttended(id):
		return AttendancePresent
	case ev.IsAbsent(id):
		return AttendanceAbsent
	default:
		return AttendanceUnmarked
	}
}

// Join registers a student. Joining closes once the event has ended, been
// cancelled or been finalized.
func (ev *Event) Join(studentID string, now time.Time, loc *time.Location) error {
	if ev.State == StateCancelled {
		return apperr.Conflict("event_cancelled", "Event has been cancelled")
	}
	if ev.Finalized {
		return apperr.Conflict("event_finalized", "Event has been finalized")
	}
	if Phase(ev, now, loc) == StatusCompleted {
		return apperr.Conflict("event_ended", "Event has already ended")
	}
	if ev.IsRegistered(studentID) {
		return apperr.Conflict("already_joined", "Already joined this event")
	}
	ev.Registered = append(ev.Registered, studentID)
	return nil
}

// Leave removes a registration that has not been marked yet.
func (ev *Event) Leave(studentID string) error {
	if !ev.IsRegistered(studentID) {
		return apperr.Conflict("not_joined", "Not registered for this event")
	}
	if ev.Finalized {
		return apperr.Conflict("event_finalized", "Event has been finalized")
	}
	if ev.AttendanceOf(studentID) != AttendanceUnmarked {
		return apperr.Conflict("attendance_marked", "Attendance has already been marked")
	}
	ev.Registered = remove(ev.Registered, studentID)
	return nil
}

// Mark records attendance for a registered student and returns the resulting
// value. Toggle flips present and absent; an unmarked student becomes present.
// Toggle never returns a student to unmarked, so two toggles from unmarked
// leave them absent. Roster totals count unmarked as absent and are unchanged
// by that round trip, while the Absent set gains the student.
func (ev *Event) Mark(studentID, action string) (Attendance, error) {
	if ev.State == StateCancelled {
		return AttendanceUnmarked, apperr.Conflict("event_cancelled", "Event has been cancelled")
	}
	if ev.Finalized {
		return AttendanceUnmarked, apperr.Conflict("event_finalized", "Attendance is locked after finalization")
	}
	if !ev.IsRegistered(studentID) {
		return AttendanceUnmarked, apperr.Conflict("not_registered", "Student is not registered for this event")
	}

	current := ev.AttendanceOf(studentID)
	var next Attendance
	switch action {
	case ActionPresent:
		next = AttendancePresent
	case ActionAbsent:
		next = AttendanceAbsent
	case ActionToggle:
		if current == AttendancePresent {
			next = AttendanceAbsent
		} else {
			next = AttendancePresent
		}
	default:
		return AttendanceUnmarked, apperr.Validation("status", "invalid_attendance_status", "Status must be present, absent or toggle")
	}

	ev.setAttendance(studentID, next)
	return next, nil
}

func (ev *Event) setAttendance(studentID string, value Attendance) {
	ev.Attended = remove(ev.Attended, studentID)
	ev.Absent = remove(ev.Absent, studentID)
	switch value {
	case AttendancePresent:
		ev.Attended = append(ev.Attended, studentID)
	case AttendanceAbsent:
		ev.Absent = append(ev.Absent, studentID)
	}
}

// Finalize locks attendance and fixes the rewarded set. It reports false
// without changing anything when the event is already finalized.
func (ev *Event) Finalize(confirmation string) (bool, error) {
	if ev.State == StateCancelled {
		return false, apperr.Conflict("event_cancelled", "Event has been cancelled")
	}
	if ev.Finalized {
		return false, nil
	}
	if confirmation != ConfirmationPhrase {
		return false, apperr.Validation("confirmation", "confirmation_required", "Type FINALIZE to confirm")
	}
	for _, id := range ev.Registered {
		if ev.AttendanceOf(id) == AttendanceUnmarked {
			ev.Absent = append(ev.Absent, id)
		}
	}
	ev.Rewarded = append([]string(nil), ev.Attended...)
	ev.Finalized = true
	return true, nil
}

// Claim records the reward claim and returns the amount to credit. Rewards
// open once the event has ended and been finalized.
func (ev *Event) Claim(studentID string, now time.Time, loc *time.Location) (decimal.Decimal, error) {
	if !ev.IsRegistered(studentID) {
		return decimal.Zero, apperr.Forbidden("not_registered")
	}
	if !ev.Finalized {
		return decimal.Zero, apperr.Conflict("not_finalized", "Event has not been finalized yet")
	}
	if Phase(ev, now, loc) != StatusCompleted {
		return decimal.Zero, apperr.Conflict("event_not_ended", "Rewards can be claimed once the event has ended")
	}
	if ev.HasClaimed(studentID) {
		return decimal.Zero, apperr.Conflict("already_claimed", "Reward already claimed")
	}
	if !ev.HasAttended(studentID) || !ev.IsRewarded(studentID) {
		return decimal.Zero, apperr.Forbidden("not_attended")
	}
	ev.Claimed = append(ev.Claimed, studentID)
	return ev.Reward, nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func remove(values []string, target string) []string {
	out := values[:0:0]
	for _, value := range values {
		if value != target {
			out = append(out, value)
		}
	}
	return out
}
