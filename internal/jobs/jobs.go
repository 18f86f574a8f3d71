// Package jobs runs the periodic maintenance tasks of the server.
package jobs

import (
	"context"
	"time"

	"campuscoin/internal/config"
	"campuscoin/internal/db"
	"campuscoin/internal/events"
	"campuscoin/internal/logger"
	"campuscoin/internal/metrics"
	"campuscoin/internal/ratelimit"
)

const (
	eventStatusJob  = "event_status"
	orderExpiryJob  = "order_expiry"
	expiryBatchSize = 100
)

type EventStore interface {
	ListOpenEvents(ctx context.Context) ([]db.Event, error)
	AdvanceEventStatus(ctx context.Context, id, from, next string) (int64, error)
}

type OrderStore interface {
	ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	ExpireOrder(ctx context.Context, id string) (bool, error)
}

// SweepEventStatuses persists the time-derived state of every open event and
// returns how many rows changed.
func SweepEventStatuses(ctx context.Context, store EventStore, now time.Time, loc *time.Location) (int, error) {
	open, err := store.ListOpenEvents(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, ev := range open {
		lc := &events.Event{
			ID:    ev.ID,
			Date:  ev.Date,
			Time:  events.Window{Start: ev.StartTime, End: ev.EndTime},
			State: ev.Status,
		}
		next := events.State(events.Phase(lc, now, loc))
		if next == ev.Status {
			continue
		}
		n, err := store.AdvanceEventStatus(ctx, ev.ID, ev.Status, next)
		if err != nil {
			return changed, err
		}
		changed += int(n)
	}
	return changed, nil
}

// ExpirePendingOrders cancels pending orders created before cutoff.
func ExpirePendingOrders(ctx context.Context, store OrderStore, cutoff time.Time) (int, error) {
	ids, err := store.ListStalePendingOrders(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		ok, err := store.ExpireOrder(ctx, id)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// Orders adapts a db.Store to OrderStore.
type Orders struct {
	Store *db.Store
}

func (o Orders) ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return o.Store.Queries.ListStalePendingOrders(ctx, cutoff, limit)
}

func (o Orders) ExpireOrder(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := o.Store.WithTx(ctx, func(q *db.Queries) error {
		order, err := q.GetOrderForUpdate(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return nil
			}
			return err
		}
		cancelled, err = q.CancelPendingOrder(ctx, order)
		return err
	})
	return cancelled, err
}

func every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(time.Now().UTC())
			}
		}
	}()
}

func StartEventStatusJob(ctx context.Context, cfg config.Config, store EventStore, m *metrics.Metrics) {
	if !cfg.EventStatusJobEnabled {
		return
	}
	interval := cfg.EventStatusJobInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.EventStatusJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loc := cfg.Location()
	log := logger.Default().WithField("job", eventStatusJob)

	every(ctx, interval, func(now time.Time) {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		changed, err := SweepEventStatuses(tickCtx, store, now, loc)
		cancel()
		if m != nil {
			m.JobRun(eventStatusJob, err)
		}
		if err != nil {
			log.WithError(err).Error("event status job failed")
			return
		}
		if changed > 0 {
			log.WithField("changed", changed).Info("event statuses updated")
		}
	})
}

func StartOrderExpiryJob(ctx context.Context, cfg config.Config, store OrderStore, m *metrics.Metrics) {
	if !cfg.OrderExpiryJobEnabled || cfg.PendingOrderTTL <= 0 {
		return
	}
	interval := cfg.OrderExpiryJobInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := logger.Default().WithField("job", orderExpiryJob)

	every(ctx, interval, func(now time.Time) {
		tickCtx, cancel := context.WithTimeout(ctx, interval)
		expired, err := ExpirePendingOrders(tickCtx, store, now.Add(-cfg.PendingOrderTTL))
		cancel()
		if m != nil {
			m.JobRun(orderExpiryJob, err)
			if expired > 0 {
				m.Orders.WithLabelValues(db.OrderCancelled).Add(float64(expired))
			}
		}
		if err != nil {
			log.WithError(err).Error("order expiry job failed")
			return
		}
		if expired > 0 {
			log.WithField("expired", expired).Info("stale orders cancelled")
		}
	})
}

// StartLimiterSweep drops idle rate limiter entries.
func StartLimiterSweep(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration) {
	if limiter == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	every(ctx, interval, func(time.Time) {
		if n := limiter.Sweep(); n > 0 {
			logger.Default().WithField("removed", n).Debug("rate limiter swept")
		}
	})
}
