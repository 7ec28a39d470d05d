package engine

// Event is one simulation occurrence. Type names are dotted lowercase
// ("agent.died", "resource.depleted"). Tick is stamped by the bus at emit
// time unless the emitter already set it.
type Event struct {
	Type    string `json:"type"`
	Tick    uint64 `json:"tick"`
	Payload any    `json:"payload,omitempty"`
}

// Handler consumes one delivered event. Handlers run on the loop goroutine
// and must not block.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed.
// Handlers themselves are not comparable in Go, so On hands back a token.
type Subscription struct {
	eventType string
	id        uint64
}

type listenerEntry struct {
	id uint64
	fn Handler
}

// Bus queues events during a tick and delivers them in one batch when the
// runner flushes. Emit never invokes handlers synchronously; whatever a
// system emits mid update is only seen after every system has run.
//
// The bus belongs to the loop goroutine. It is not safe for concurrent use
// and never takes a lock.
type Bus struct {
	nextID    uint64
	tick      uint64
	listeners map[string][]listenerEntry
	pending   []Event
}

func NewBus() *Bus {
	return &Bus{listeners: map[string][]listenerEntry{}}
}

// SetTick sets the tick stamped onto subsequently emitted events.
func (b *Bus) SetTick(tick uint64) { b.tick = tick }

// Emit appends evt to the pending queue. Delivery happens at Flush, in
// emit order.
func (b *Bus) Emit(evt Event) {
	if evt.Tick == 0 {
		evt.Tick = b.tick
	}
	b.pending = append(b.pending, evt)
}

// On registers fn for events of the given type. Handlers for one type run
// in registration order. The returned subscription cancels via Off.
func (b *Bus) On(eventType string, fn Handler) Subscription {
	b.nextID++
	sub := Subscription{eventType: eventType, id: b.nextID}
	b.listeners[eventType] = append(b.listeners[eventType], listenerEntry{id: sub.id, fn: fn})
	return sub
}

// Off removes the handler behind sub. Unknown or already removed
// subscriptions are a no-op. A handler removed while a flush is delivering
// may still see the event currently in flight, but none after it.
func (b *Bus) Off(sub Subscription) {
	entries, ok := b.listeners[sub.eventType]
	if !ok {
		return
	}
	// Copy-filter instead of truncating in place: an in-flight Flush may be
	// ranging over the old slice.
	next := make([]listenerEntry, 0, len(entries))
	for _, e := range entries {
		if e.id != sub.id {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(b.listeners, sub.eventType)
		return
	}
	b.listeners[sub.eventType] = next
}

// Flush delivers every pending event to its handlers, in emit order, and
// returns the delivered batch. Events emitted by handlers during the flush
// are appended to the same batch and delivered before Flush returns, so one
// flush fully settles a cascade.
func (b *Bus) Flush() []Event {
	if len(b.pending) == 0 {
		return nil
	}
	// Index walk, not range: handlers may grow pending while we deliver.
	for i := 0; i < len(b.pending); i++ {
		evt := b.pending[i]
		for _, e := range b.listeners[evt.Type] {
			e.fn(evt)
		}
	}
	delivered := b.pending
	b.pending = nil
	return delivered
}

// ClearQueue drops all pending events without delivering them and reports
// how many were discarded.
func (b *Bus) ClearQueue() int {
	n := len(b.pending)
	b.pending = nil
	return n
}

// RemoveAllListeners detaches handlers for the named types, or every
// handler when called with no arguments.
func (b *Bus) RemoveAllListeners(types ...string) {
	if len(types) == 0 {
		clear(b.listeners)
		return
	}
	for _, t := range types {
		delete(b.listeners, t)
	}
}

// Pending reports how many events await the next flush.
func (b *Bus) Pending() int { return len(b.pending) }

// ListenerCount reports how many handlers are registered for a type.
func (b *Bus) ListenerCount(eventType string) int { return len(b.listeners[eventType]) }
