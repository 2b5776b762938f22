package lifecycle

import (
	"context"
	"sync"
)

// Event is an immutable node in a singly-linked, promise-chained event
// log. Payload is whatever structured value the
// producer emitted; Next resolves once the successor has been emitted.
// Once resolved, an Event's successor is never replaced.
type Event struct {
	Payload any

	ready chan struct{}
	next  *Event
}

func newEvent(payload any) *Event {
	return &Event{Payload: payload, ready: make(chan struct{})}
}

func (e *Event) resolve(next *Event) {
	e.next = next
	close(e.ready)
}

// Next blocks until this event's successor has been emitted, or ctx is
// done first.
func (e *Event) Next(ctx context.Context) (*Event, error) {
	select {
	case <-e.ready:
		return e.next, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextNow returns the successor without blocking: (event, true) if
// already resolved, (nil, false) otherwise.
func (e *Event) NextNow() (*Event, bool) {
	select {
	case <-e.ready:
		return e.next, true
	default:
		return nil, false
	}
}

// Source is an EventSource: a producer of an Event chain. emit is
// non-blocking and resolves the previous tail's Next. The source retains
// strong references to the last KeepCount+1 events; earlier ones become
// eligible for garbage collection once nothing else references them.
type Source struct {
	mu         sync.Mutex
	keepCount  int
	current    *Event
	retained   []*Event
	firstReady chan struct{}
	firstOnce  sync.Once
}

// NewSource builds an EventSource retaining the last keepCount+1 events.
// keepCount < 0 is treated as 0.
func NewSource(keepCount int) *Source {
	if keepCount < 0 {
		keepCount = 0
	}
	return &Source{
		keepCount:  keepCount,
		firstReady: make(chan struct{}),
	}
}

// Emit appends a new event carrying payload and returns it.
func (s *Source) Emit(payload any) *Event {
	evt := newEvent(payload)

	s.mu.Lock()
	prev := s.current
	s.current = evt
	s.retained = append(s.retained, evt)
	if over := len(s.retained) - (s.keepCount + 1); over > 0 {
		s.retained = s.retained[over:]
	}
	s.mu.Unlock()

	if prev != nil {
		prev.resolve(evt)
	} else {
		s.firstOnce.Do(func() { close(s.firstReady) })
	}
	return evt
}

// CurrentEventNow returns the most recently emitted event, or nil if
// none has been emitted yet.
func (s *Source) CurrentEventNow() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentEvent blocks until at least one event has been emitted, then
// returns the most recent one at that point (which may by then have a
// resolved Next -- callers that want the live tail should re-check
// CurrentEventNow).
func (s *Source) CurrentEvent(ctx context.Context) (*Event, error) {
	if cur := s.CurrentEventNow(); cur != nil {
		return cur, nil
	}
	select {
	case <-s.firstReady:
		return s.CurrentEventNow(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EarliestEvent returns the oldest event the source still retains, or
// nil if nothing has been emitted yet.
func (s *Source) EarliestEvent() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.retained) == 0 {
		return nil
	}
	return s.retained[0]
}

// KeepCount reports the retention depth this source was configured with.
func (s *Source) KeepCount() int {
	return s.keepCount
}

// Handler processes one event in an EventSink's FIFO loop.
type Handler func(*Event)

// Sink is an EventSink: it awaits events starting from firstEvent and
// invokes handler serially, in emission order, one invocation per event.
type Sink struct {
	handler Handler
	cursor  *Event
	drain   chan struct{}
	once    sync.Once
}

// NewSink builds a sink that will begin consuming at firstEvent (which
// may itself be unresolved, i.e. the sink starts by waiting for the
// very next emission).
func NewSink(handler Handler, firstEvent *Event) *Sink {
	return &Sink{
		handler: handler,
		cursor:  firstEvent,
		drain:   make(chan struct{}),
	}
}

// Run consumes events in FIFO order, invoking handler for each, until
// DrainAndStop is called or ctx is cancelled. Run returns nil on a clean
// drain, or ctx.Err() if cancelled mid-wait.
func (s *Sink) Run(ctx context.Context) error {
	cur := s.cursor
	for {
		next, ok, err := s.awaitNext(ctx, cur)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.handler(next)
		cur = next
	}
}

func (s *Sink) awaitNext(ctx context.Context, cur *Event) (*Event, bool, error) {
	// Queued (already-resolved) events are processed even if a drain
	// has concurrently been requested: DrainAndStop processes
	// currently-queued events, then halts.
	select {
	case <-cur.ready:
		return cur.next, true, nil
	default:
	}
	select {
	case <-cur.ready:
		return cur.next, true, nil
	case <-s.drain:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// DrainAndStop processes any events already queued, then halts Run. Safe
// to call more than once.
func (s *Sink) DrainAndStop() {
	s.once.Do(func() { close(s.drain) })
}

// Predicate filters events when walking a chain with a Tracker.
type Predicate func(*Event) bool

// Tracker advances over an Event chain, optionally filtered by a
// synchronous predicate. It supports continuations like "start logging
// after the last event of type X tagged Y", used for same-process
// reload continuity in System.
type Tracker struct {
	cur *Event
}

// NewTracker starts tracking from the given event. The tracker is
// positioned at first, so the first call to Advance returns the event
// after it; first itself is never returned by Advance.
func NewTracker(first *Event) *Tracker {
	return &Tracker{cur: first}
}

// Advance blocks for the next event in the chain.
func (t *Tracker) Advance(ctx context.Context) (*Event, error) {
	next, err := t.cur.Next(ctx)
	if err != nil {
		return nil, err
	}
	t.cur = next
	return next, nil
}

// AdvanceUntil advances repeatedly until pred matches an event, or ctx
// is cancelled.
func (t *Tracker) AdvanceUntil(ctx context.Context, pred Predicate) (*Event, error) {
	for {
		e, err := t.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if pred(e) {
			return e, nil
		}
	}
}

// Current returns the event the tracker is currently positioned at.
func (t *Tracker) Current() *Event {
	return t.cur
}
