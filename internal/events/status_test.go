package events

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, time.UTC)
	if err != nil {
		t.Fatalf("bad time %q: %v", value, err)
	}
	return parsed
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in           string
		hour, minute int
		ok           bool
	}{
		{"9:05 AM", 9, 5, true},
		{"12:00 AM", 0, 0, true},
		{"12:30 PM", 12, 30, true},
		{"1:15 pm", 13, 15, true},
		{"11:59PM", 23, 59, true},
		{"13:00 PM", 0, 0, false},
		{"0:30 AM", 0, 0, false},
		{"9:60 AM", 0, 0, false},
		{"9 AM", 0, 0, false},
		{"14:00", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		hour, minute, ok := ParseClock(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.hour, hour, tc.in)
			assert.Equal(t, tc.minute, minute, tc.in)
		}
	}
}

func TestPhase(t *testing.T) {
	ev := &Event{Date: "2025-03-10", Time: Window{Start: "9:00 AM", End: "11:00 AM"}}

	assert.Equal(t, StatusUpcoming, Phase(ev, at(t, "2025-03-10 08:59"), time.UTC))
	assert.Equal(t, StatusOngoing, Phase(ev, at(t, "2025-03-10 09:00"), time.UTC))
	assert.Equal(t, StatusOngoing, Phase(ev, at(t, "2025-03-10 10:30"), time.UTC))
	assert.Equal(t, StatusCompleted, Phase(ev, at(t, "2025-03-10 11:01"), time.UTC))

	ev.State = StateCancelled
	assert.Equal(t, StatusCancelled, Phase(ev, at(t, "2025-03-10 10:30"), time.UTC))
}

func TestPhaseAcceptsTimestampDates(t *testing.T) {
	ev := &Event{Date: "2025-03-10T00:00:00.000Z", Time: Window{Start: "9:00 AM", End: "11:00 AM"}}
	assert.Equal(t, StatusOngoing, Phase(ev, at(t, "2025-03-10 10:00"), time.UTC))
}

func TestPhaseCrossesMidnight(t *testing.T) {
	ev := &Event{Date: "2025-03-10", Time: Window{Start: "11:00 PM", End: "1:00 AM"}}
	assert.Equal(t, StatusOngoing, Phase(ev, at(t, "2025-03-11 00:30"), time.UTC))
	assert.Equal(t, StatusCompleted, Phase(ev, at(t, "2025-03-11 01:30"), time.UTC))
}

func TestPhaseUsesLocation(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	ev := &Event{Date: "2025-03-10", Time: Window{Start: "9:00 AM", End: "11:00 AM"}}
	// 02:00 UTC is 10:00 in UTC+8.
	assert.Equal(t, StatusOngoing, Phase(ev, at(t, "2025-03-10 02:00"), manila))
	assert.Equal(t, StatusUpcoming, Phase(ev, at(t, "2025-03-10 02:00"), time.UTC))
}

func TestMalformedOrMissingWindowNeverProgresses(t *testing.T) {
	far := at(t, "2030-01-01 00:00")
	windows := []struct {
		date   string
		window Window
	}{
		{"2025-03-10", Window{}},
		{"2025-03-10", Window{Start: "9:00 AM"}},
		{"2025-03-10", Window{End: "9:00 AM"}},
		{"2025-03-10", Window{Start: "nine", End: "ten"}},
		{"2025-03-10", Window{Start: "25:00 PM", End: "11:00 AM"}},
		{"March 10", Window{Start: "9:00 AM", End: "11:00 AM"}},
		{"", Window{Start: "9:00 AM", End: "11:00 AM"}},
	}
	for _, w := range windows {
		ev := &Event{Date: w.date, Time: w.window}
		assert.Equal(t, StatusUpcoming, Phase(ev, far, time.UTC), "%+v", w)
		assert.Equal(t, StatusUpcoming, StatusFor(ev, far, "", time.UTC), "%+v", w)
	}
}

func TestStatusForStudent(t *testing.T) {
	ev := &Event{
		Date:       "2025-03-10",
		Time:       Window{Start: "9:00 AM", End: "11:00 AM"},
		Registered: []string{"s1", "s2", "s3"},
		Attended:   []string{"s1", "s2"},
		Absent:     []string{"s3"},
	}
	before := at(t, "2025-03-10 08:00")
	during := at(t, "2025-03-10 10:00")
	after := at(t, "2025-03-10 12:00")

	assert.Equal(t, StatusRegistered, StatusFor(ev, before, "s1", time.UTC))
	assert.Equal(t, StatusUpcoming, StatusFor(ev, before, "outsider", time.UTC))
	assert.Equal(t, StatusOngoing, StatusFor(ev, during, "s1", time.UTC))
	assert.Equal(t, StatusCompleted, StatusFor(ev, after, "s1", time.UTC), "not finalized yet")

	ev.Finalized = true
	ev.Rewarded = []string{"s1", "s2"}
	ev.Claimed = []string{"s2"}
	assert.Equal(t, StatusClaimReward, StatusFor(ev, after, "s1", time.UTC))
	assert.Equal(t, StatusCompleted, StatusFor(ev, after, "s2", time.UTC))
	assert.Equal(t, StatusCompleted, StatusFor(ev, after, "s3", time.UTC))
}

// For every parseable window and every instant strictly inside it the status is
// Ongoing, whoever asks.
func TestOngoingInsideWindowProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		startHour := rng.Intn(22)
		length := 1 + rng.Intn(23-startHour)
		start := time.Date(2025, 5, 1, startHour, rng.Intn(60), 0, 0, time.UTC)
		end := start.Add(time.Duration(length)*time.Hour - time.Minute)
		if end.Day() != start.Day() {
			continue
		}
		ev := &Event{
			Date:       "2025-05-01",
			Time:       Window{Start: start.Format("3:04 PM"), End: end.Format("3:04 PM")},
			Registered: []string{"s1"},
			Attended:   []string{"s1"},
			Finalized:  rng.Intn(2) == 0,
		}
		span := end.Sub(start)
		now := start.Add(time.Duration(1 + rng.Int63n(int64(span)-1)))
		for _, user := range []string{"", "s1", "other"} {
			assert.Equal(t, StatusOngoing, StatusFor(ev, now, user, time.UTC), fmt.Sprintf("%+v now=%s user=%s", ev.Time, now, user))
		}
	}
}

// After the end a student who has claimed is Completed, never Claim Reward.
func TestClaimedIsCompletedProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		ev := &Event{
			Date:       "2025-05-01",
			Time:       Window{Start: "8:00 AM", End: "10:00 AM"},
			Registered: []string{"s1"},
			Attended:   []string{"s1"},
			Rewarded:   []string{"s1"},
			Claimed:    []string{"s1"},
			Finalized:  true,
		}
		now := time.Date(2025, 5, 1, 10, 1, 0, 0, time.UTC).Add(time.Duration(rng.Int63n(int64(365 * 24 * time.Hour))))
		assert.Equal(t, StatusCompleted, StatusFor(ev, now, "s1", time.UTC))
	}
}

func TestState(t *testing.T) {
	assert.Equal(t, StateUpcoming, State(StatusUpcoming))
	assert.Equal(t, StateOngoing, State(StatusOngoing))
	assert.Equal(t, StateCompleted, State(StatusCompleted))
	assert.Equal(t, StateCancelled, State(StatusCancelled))
}
