package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscoin/internal/apperr"
)

func newEvent() *Event {
	return &Event{
		ID:     "ev-1",
		Date:   "2025-03-10",
		Time:   Window{Start: "9:00 AM", End: "11:00 AM"},
		State:  StateUpcoming,
		Reward: decimal.RequireFromString("12.5"),
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	ev := newEvent()
	before := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	after := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Nothing past join is reachable before joining.
	_, err := ev.Mark("s1", ActionPresent)
	assert.True(t, apperr.HasCode(err, "not_registered"))
	_, err = ev.Claim("s1", after, time.UTC)
	assert.True(t, apperr.HasCode(err, "not_registered"))

	require.NoError(t, ev.Join("s1", before, time.UTC))
	assert.Contains(t, ev.Registered, "s1")

	// Claim needs finalization.
	_, err = ev.Claim("s1", after, time.UTC)
	assert.True(t, apperr.HasCode(err, "not_finalized"))

	value, err := ev.Mark("s1", ActionPresent)
	require.NoError(t, err)
	assert.Equal(t, AttendancePresent, value)
	assert.Contains(t, ev.Attended, "s1")

	changed, err := ev.Finalize(ConfirmationPhrase)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, ev.Finalized)
	assert.Contains(t, ev.Rewarded, "s1")

	reward, err := ev.Claim("s1", after, time.UTC)
	require.NoError(t, err)
	assert.True(t, reward.Equal(decimal.RequireFromString("12.5")))
	assert.Contains(t, ev.Claimed, "s1")

	_, err = ev.Claim("s1", after, time.UTC)
	assert.True(t, apperr.HasCode(err, "already_claimed"))
}

func TestClaimWaitsForEventEnd(t *testing.T) {
	before := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	during := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	after := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ev := newEvent()
	ev.Registered = []string{"s1"}
	ev.Attended = []string{"s1"}
	_, err := ev.Finalize(ConfirmationPhrase)
	require.NoError(t, err)

	for _, now := range []time.Time{before, during} {
		_, err = ev.Claim("s1", now, time.UTC)
		assert.True(t, apperr.HasCode(err, "event_not_ended"), "at %s", now)
		assert.NotEqual(t, StatusClaimReward, StatusFor(ev, now, "s1", time.UTC))
	}
	assert.Empty(t, ev.Claimed)

	assert.Equal(t, StatusClaimReward, StatusFor(ev, after, "s1", time.UTC))
	_, err = ev.Claim("s1", after, time.UTC)
	require.NoError(t, err)

	untimed := newEvent()
	untimed.Time = Window{}
	untimed.Registered = []string{"s1"}
	untimed.Attended = []string{"s1"}
	_, err = untimed.Finalize(ConfirmationPhrase)
	require.NoError(t, err)
	_, err = untimed.Claim("s1", after.Add(30*24*time.Hour), time.UTC)
	assert.True(t, apperr.HasCode(err, "event_not_ended"))
}

func TestJoinGuards(t *testing.T) {
	before := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	during := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	after := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ev := newEvent()
	require.NoError(t, ev.Join("s1", during, time.UTC))
	assert.True(t, apperr.HasCode(ev.Join("s1", before, time.UTC), "already_joined"))
	assert.True(t, apperr.HasCode(ev.Join("s2", after, time.UTC), "event_ended"))

	ev.State = StateCancelled
	assert.True(t, apperr.HasCode(ev.Join("s3", before, time.UTC), "event_cancelled"))

	ev = newEvent()
	ev.Finalized = true
	assert.True(t, apperr.HasCode(ev.Join("s3", before, time.UTC), "event_finalized"))
}

func TestLeave(t *testing.T) {
	ev := newEvent()
	ev.Registered = []string{"s1", "s2"}
	ev.Attended = []string{"s2"}

	require.NoError(t, ev.Leave("s1"))
	assert.NotContains(t, ev.Registered, "s1")
	assert.True(t, apperr.HasCode(ev.Leave("s1"), "not_joined"))
	assert.True(t, apperr.HasCode(ev.Leave("s2"), "attendance_marked"))
}

func TestMarkKeepsAttendedAndAbsentDisjoint(t *testing.T) {
	ev := newEvent()
	ev.Registered = []string{"s1"}

	for _, action := range []string{ActionPresent, ActionAbsent, ActionToggle, ActionToggle, ActionAbsent, ActionPresent} {
		_, err := ev.Mark("s1", action)
		require.NoError(t, err)
		assert.False(t, ev.HasAttended("s1") && ev.IsAbsent("s1"), "after %s", action)
		assert.Equal(t, 1, len(ev.Attended)+len(ev.Absent))
	}

	_, err := ev.Mark("s1", "late")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMarkToggle(t *testing.T) {
	ev := newEvent()
	ev.Registered = []string{"s1", "s2"}
	ev.Attended = []string{"s2"}

	first, err := ev.Mark("s1", ActionToggle)
	require.NoError(t, err)
	assert.Equal(t, AttendancePresent, first)
	second, err := ev.Mark("s2", ActionToggle)
	require.NoError(t, err)
	assert.Equal(t, AttendanceAbsent, second)
}

func TestDoubleToggleFromUnmarkedEndsAbsent(t *testing.T) {
	ev := newEvent()
	ev.Registered = []string{"s1", "s2"}
	before := NewRoster(ev).Totals()

	for _, want := range []Attendance{AttendancePresent, AttendanceAbsent} {
		got, err := ev.Mark("s1", ActionToggle)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []string{"s1"}, ev.Absent)
	assert.Empty(t, ev.Attended)
	assert.Equal(t, before, NewRoster(ev).Totals())
}

func TestFinalizeIsOneWayAndIdempotent(t *testing.T) {
	ev := newEvent()
	ev.Registered = []string{"s1", "s2", "s3"}
	ev.Attended = []string{"s1"}
	ev.Absent = []string{"s2"}

	_, err := ev.Finalize("finalize")
	assert.True(t, apperr.HasCode(err, "confirmation_required"))
	assert.False(t, ev.Finalized)

	changed, err := ev.Finalize(ConfirmationPhrase)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"s2", "s3"}, ev.Absent)
	assert.Equal(t, []string{"s1"}, ev.Rewarded)

	changed, err = ev.Finalize(ConfirmationPhrase)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"s1"}, ev.Rewarded)

	_, err = ev.Mark("s3", ActionPresent)
	assert.True(t, apperr.HasCode(err, "event_finalized"))

	_, err = ev.Claim("s2", time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.True(t, apperr.HasCode(err, "not_attended"))
}

func TestFinalizeCancelled(t *testing.T) {
	ev := newEvent()
	ev.State = StateCancelled
	_, err := ev.Finalize(ConfirmationPhrase)
	assert.True(t, apperr.HasCode(err, "event_cancelled"))
}
