package events

import "sync"

type subscription struct {
	id   int
	fn   Handler
	once bool
}

// Bus is an in-process typed pub/sub. Zero value is not usable; construct
// with NewBus.
type Bus struct {
	mu       sync.Mutex
	seq      int
	handlers map[string][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// Subscribe registers a handler for an event type. Handlers are dispatched
// in registration order. The returned function removes the subscription and
// is safe to call more than once.
func (b *Bus) Subscribe(eventType string, fn Handler) (unsubscribe func()) {
	return b.add(eventType, fn, false)
}

// SubscribeOnce registers a handler that is removed before its first
// invocation.
func (b *Bus) SubscribeOnce(eventType string, fn Handler) (unsubscribe func()) {
	return b.add(eventType, fn, true)
}

func (b *Bus) add(eventType string, fn Handler, once bool) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, fn: fn, once: once})
	b.mu.Unlock()

	return func() { b.remove(eventType, id) }
}

func (b *Bus) remove(eventType string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches the event to all current subscribers of its type, in
// registration order, on the caller's goroutine. Once-subscriptions are
// removed before their handler runs, so a handler may publish follow-up
// events without re-triggering itself.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	subs := b.handlers[evt.Type]
	fns := make([]Handler, 0, len(subs))
	remaining := subs[:0:0]
	for _, s := range subs {
		fns = append(fns, s.fn)
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	b.handlers[evt.Type] = remaining
	b.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
