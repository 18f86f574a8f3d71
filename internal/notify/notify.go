package notify

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campuscoin/internal/logger"
)

// Event types published by the server and the SDK.
const (
	AuthRegister       = "auth.register"
	AuthLogin          = "auth.login"
	AuthLogout         = "auth.logout"
	AuthVerifyEmail    = "auth.verify_email"
	AuthResendCode     = "auth.resend_code"
	AuthPasswordReset  = "auth.password_reset"
	AuthPasswordChange = "auth.password_change"
	EventJoined        = "event.joined"
	EventFinalized     = "event.finalized"
	RewardClaimed      = "reward.claimed"
	OrderCreated       = "order.created"
	OrderPaid          = "order.paid"
	OrderCancelled     = "order.cancelled"
	WalletSent         = "wallet.sent"
	AccountChanged     = "account.status_changed"
)

type Event struct {
	Type    string                 `json:"type"`
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	UserID  string                 `json:"userId,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	At      time.Time              `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Emitter is an in-process callback registry. Subscribers run synchronously
// in subscription order.
type Emitter struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewEmitter() *Emitter {
	return &Emitter{subs: map[int]func(Event){}}
}

// Subscribe registers fn and returns a function that removes it.
func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Emitter) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.mu.RLock()
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Emitter) Notify(_ context.Context, ev Event) {
	e.Publish(ev)
}

// Listen delivers events on a channel until ctx is done. Events are dropped
// when the buffer is full.
func (e *Emitter) Listen(ctx context.Context, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false
	unsubscribe := e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("notify: marshal failed")
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("type", ev.Type).Warn("notify: publish failed")
	}
}

// Subscribe decodes events from the channel until ctx is done.
func (r *Redis) Subscribe(ctx context.Context) <-chan Event {
	sub := r.client.Subscribe(ctx, r.channel)
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Default().WithError(err).Warn("notify: bad payload")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
