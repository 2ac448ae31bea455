package eventbus

import (
	"context"
	"sync"
)

// Bus distributes events to subscribers.
type Bus interface {
	// Publish sends an event to all matching subscribers, stamping Seq with
	// the next monotonic number for its execution_id.
	Publish(event Event)

	// Subscribe registers a subscriber for one execution_id.
	Subscribe(executionID string) Subscription

	// SubscribeAll registers a subscriber that receives events from every
	// execution_id (used by transports watching multiple runs at once).
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events for its registration.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Config configures an in-memory bus.
type Config struct {
	// SubscriberBufferSize is the channel buffer size per subscriber.
	// Defaults to 256 when zero.
	SubscriberBufferSize int
}

// MemBus is an in-memory, process-local event bus. Delivery is at-least-once
// per subscriber with ordering preserved per execution_id; a slow subscriber
// cannot block the scheduler because Publish never blocks.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*subscription // executionID -> subscribers
	globalSubs []*subscription
	bufSize    int
	closed     bool

	seqMu sync.Mutex
	seqs  map[string]*seqGen

	store Store
}

// NewMemBus creates an in-memory bus with the given configuration.
func NewMemBus(cfg Config) *MemBus {
	bufSize := cfg.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*subscription),
		bufSize: bufSize,
		seqs:    make(map[string]*seqGen),
	}
}

// WithStore attaches a replay Store that every published event is appended
// to in addition to its normal subscriber fan-out. Appends run on their own
// goroutine so a slow store can never block Publish or the scheduler.
func (b *MemBus) WithStore(store Store) *MemBus {
	b.store = store
	return b
}

func (b *MemBus) nextSeq(executionID string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	g, ok := b.seqs[executionID]
	if !ok {
		g = newSeqGen()
		b.seqs[executionID] = g
	}
	return g.Next()
}

// Publish stamps the event's Seq and fans it out to matching subscribers.
// If the bus is closed the event is silently dropped. A full subscriber
// buffer drops the event unless it is Critical, in which case the oldest
// buffered non-critical event is evicted to make room.
func (b *MemBus) Publish(event Event) {
	if event.Seq == 0 {
		event.Seq = b.nextSeq(event.ExecutionID)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[event.ExecutionID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}

	if b.store != nil {
		go func(e Event) { _ = b.store.Append(context.Background(), e) }(event)
	}
}

// Subscribe registers a subscriber for one execution_id.
func (b *MemBus) Subscribe(executionID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newSubscription(b.bufSize)
	b.subs[executionID] = append(b.subs[executionID], sub)
	return sub
}

// SubscribeAll registers a subscriber for every execution_id.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newSubscription(b.bufSize)
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	return nil
}

type subscription struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newSubscription(bufSize int) *subscription {
	return &subscription{ch: make(chan Event, bufSize)}
}

func (s *subscription) Events() <-chan Event { return s.ch }

func (s *subscription) Close() error {
	s.close()
	return nil
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event, dropping the oldest buffered non-critical event to
// make room for a critical one if the channel is full.
func (s *subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- event:
		return
	default:
	}

	if !event.Kind.Critical() {
		return
	}

	kept := make([]Event, 0, len(s.ch))
	for evicted, n := false, len(s.ch); n > 0; n-- {
		select {
		case e := <-s.ch:
			if evicted || e.Kind.Critical() {
				kept = append(kept, e)
			}
			evicted = evicted || !e.Kind.Critical()
		default:
		}
	}
	for _, e := range kept {
		s.ch <- e
	}
	select {
	case s.ch <- event:
	default:
	}
}

var _ Bus = (*MemBus)(nil)
var _ Subscription = (*subscription)(nil)
