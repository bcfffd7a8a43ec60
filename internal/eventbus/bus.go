// Package eventbus implements the notification bus that decouples state
// mutation from downstream consumers. Publishing an event blocks until every
// handler registered at publish time has settled, so callers can sequence
// dependent work (for example: start polling only after all login handlers
// have finished).
package eventbus

import (
	"context"
	"errors"
	"sync"
)

// ErrNoEvent is returned by Publish when no event name is supplied.
var ErrNoEvent = errors.New("no event name supplied")

// Logger is the minimal logging surface the bus needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Handler consumes a published payload. Returning detach == true removes the
// handler after the publish completes. A returned error is logged and never
// fails the publish.
type Handler func(ctx context.Context, payload any) (detach bool, err error)

// Subscription identifies a registered handler. Handlers are funcs and cannot
// be compared, so removal goes through the subscription handle.
type Subscription struct {
	event   string
	handler Handler
	times   int // remaining invocations before auto-detach; 0 means unlimited
}

// Bus is a per-owner publish/subscribe hub.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]*Subscription
	logger   Logger
}

func New(logger Logger) *Bus {
	return &Bus{
		handlers: map[string][]*Subscription{},
		logger:   logger,
	}
}

// Subscribe registers a handler for event and returns its subscription handle.
func (b *Bus) Subscribe(event string, handler Handler) *Subscription {
	return b.subscribe(event, handler, 0)
}

// SubscribeLimited registers a handler that detaches itself after times
// invocations. times <= 0 behaves like Subscribe.
func (b *Bus) SubscribeLimited(event string, handler Handler, times int) *Subscription {
	if times < 0 {
		times = 0
	}
	return b.subscribe(event, handler, times)
}

func (b *Bus) subscribe(event string, handler Handler, times int) *Subscription {
	sub := &Subscription{
		event:   event,
		handler: handler,
		times:   times,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], sub)
	return sub
}

// Unsubscribe removes a subscription. Removing one that is already gone is a
// no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish invokes every handler currently registered for event concurrently
// and returns after all of them have settled. Handlers subscribed while the
// publish is in flight do not observe it. Handler errors are logged, never
// propagated; the only error Publish itself can return is ErrNoEvent.
func (b *Bus) Publish(ctx context.Context, event string, payload any) error {
	if event == "" {
		return ErrNoEvent
	}

	b.mu.Lock()
	snapshot := append([]*Subscription(nil), b.handlers[event]...)
	// Countdown claims are consumed at snapshot time: overlapping publishes
	// of the same event each snapshot before any handler runs, so a
	// post-publish decrement could over-invoke a limited subscription.
	for _, sub := range snapshot {
		if sub.times > 0 {
			sub.times--
			if sub.times == 0 {
				b.removeLocked(sub)
			}
		}
	}
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	detach := make([]bool, len(snapshot))
	var wg sync.WaitGroup
	for i, sub := range snapshot {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			remove, err := sub.handler(ctx, payload)
			if err != nil {
				b.logf("eventbus: %s handler failed: %v", event, err)
			}
			detach[i] = remove
		}(i, sub)
	}
	wg.Wait()

	// Detach pass over the publish-time snapshot, applied after every handler
	// has settled. Removing a subscription the countdown already retired is a
	// no-op.
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range snapshot {
		if detach[i] {
			b.removeLocked(sub)
		}
	}
	return nil
}

func (b *Bus) removeLocked(sub *Subscription) {
	subs := b.handlers[sub.event]
	for i := range subs {
		if subs[i] == sub {
			b.handlers[sub.event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.event]) == 0 {
		delete(b.handlers, sub.event)
	}
}

func (b *Bus) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}
