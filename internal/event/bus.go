package event

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 256

// HandlerFunc consumes one event. It runs on the subscriber's own goroutine;
// a slow or panicking handler never affects other subscribers or publishers.
type HandlerFunc func(Event)

// Bus is the in-process event channel. Each subscriber owns a buffered
// channel drained by a dedicated goroutine, so publication is a non-blocking
// fan-out that preserves per-session ordering. There is no buffering beyond
// the in-flight channel and no replay: a subscriber registered after an
// event was published never observes it.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	kinds map[Kind]struct{} // nil means all kinds
	ch    chan Event
}

// NewBus creates an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		logger: log.With(slog.String("component", "eventbus")),
		subs:   map[int]*subscriber{},
	}
}

// Subscribe registers fn for the given kinds (all kinds when none are given)
// and returns a cancel function. The returned cancel is idempotent.
func (b *Bus) Subscribe(fn HandlerFunc, kinds ...Kind) func() {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go b.consume(sub, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Bus) consume(sub *subscriber, fn HandlerFunc) {
	for ev := range sub.ch {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn HandlerFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic",
				slog.String("kind", string(ev.Kind)),
				slog.String("session_id", ev.SessionID),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ev)
}

// Publish fans ev out to every current subscriber interested in its kind.
// A subscriber whose channel is full has the event dropped with a warning
// rather than blocking the publisher or the other subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber overflow, event dropped",
				slog.String("kind", string(ev.Kind)),
				slog.String("session_id", ev.SessionID),
			)
		}
	}
}

// Close stops all subscribers. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
