package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscoin/internal/db"
	"campuscoin/internal/events"
)

type fakeEvents struct {
	open    []db.Event
	current map[string]string
	updates map[string]string
	failOn  string
}

func (f *fakeEvents) ListOpenEvents(context.Context) ([]db.Event, error) {
	return f.open, nil
}

func (f *fakeEvents) AdvanceEventStatus(_ context.Context, id, from, next string) (int64, error) {
	if id == f.failOn {
		return 0, errors.New("write failed")
	}
	if cur, ok := f.current[id]; ok && cur != from {
		return 0, nil
	}
	if f.updates == nil {
		f.updates = map[string]string{}
	}
	f.updates[id] = next
	return 1, nil
}

func TestSweepEventStatuses(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	store := &fakeEvents{open: []db.Event{
		{ID: "past", Date: "2026-03-09", StartTime: "9:00 AM", EndTime: "5:00 PM", Status: events.StateUpcoming},
		{ID: "now", Date: "2026-03-10", StartTime: "1:00 PM", EndTime: "3:00 PM", Status: events.StateUpcoming},
		{ID: "later", Date: "2026-03-11", StartTime: "9:00 AM", EndTime: "5:00 PM", Status: events.StateUpcoming},
		{ID: "untimed", Date: "2026-03-01", StartTime: "", EndTime: "", Status: events.StateUpcoming},
	}}

	changed, err := SweepEventStatuses(context.Background(), store, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, map[string]string{"past": events.StateCompleted, "now": events.StateOngoing}, store.updates)
}

func TestSweepEventStatusesSkipsConcurrentCancel(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	store := &fakeEvents{
		open: []db.Event{
			{ID: "now", Date: "2026-03-10", StartTime: "1:00 PM", EndTime: "3:00 PM", Status: events.StateUpcoming},
		},
		current: map[string]string{"now": events.StateCancelled},
	}

	changed, err := SweepEventStatuses(context.Background(), store, now, time.UTC)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Empty(t, store.updates)
}

func TestSweepEventStatusesStopsOnError(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	store := &fakeEvents{failOn: "past", open: []db.Event{
		{ID: "past", Date: "2026-03-09", StartTime: "9:00 AM", EndTime: "5:00 PM", Status: events.StateOngoing},
	}}
	_, err := SweepEventStatuses(context.Background(), store, now, time.UTC)
	assert.Error(t, err)
}

type fakeOrders struct {
	stale   []string
	pending map[string]bool
	cutoff  time.Time
}

func (f *fakeOrders) ListStalePendingOrders(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.cutoff = cutoff
	if len(f.stale) > limit {
		return f.stale[:limit], nil
	}
	return f.stale, nil
}

func (f *fakeOrders) ExpireOrder(_ context.Context, id string) (bool, error) {
	if !f.pending[id] {
		return false, nil
	}
	f.pending[id] = false
	return true, nil
}

func TestExpirePendingOrders(t *testing.T) {
	store := &fakeOrders{
		stale:   []string{"a", "b", "c"},
		pending: map[string]bool{"a": true, "c": true},
	}
	cutoff := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	expired, err := ExpirePendingOrders(context.Background(), store, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.Equal(t, cutoff, store.cutoff)

	expired, err = ExpirePendingOrders(context.Background(), store, cutoff)
	require.NoError(t, err)
	assert.Zero(t, expired)
}
