// Package events provides the typed event bus: components publish
// transaction, cache, connection and transfer events; subscribers receive
// them filtered, each on its own buffered channel. Publishing never blocks;
// a subscriber that cannot keep up loses events and the loss is counted.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/metrics"
)

// ErrClosed is returned when emitting on a closed bus.
var ErrClosed = errors.New("events: bus closed")

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 64

// Emitter is the publishing side of the bus.
type Emitter interface {
	// Emit publishes a single event
	Emit(ctx context.Context, event *domain.Event) error

	// EmitBatch publishes multiple events
	EmitBatch(ctx context.Context, events []*domain.Event) error

	// Close shuts the emitter down
	Close() error
}

// Filter selects which events a subscription receives. The zero value
// matches everything.
type Filter struct {
	Types     []domain.EventType
	Chains    []domain.ChainID
	Addresses []string
	FromBlock uint64
	ToBlock   uint64
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(ev *domain.Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
		return false
	}
	if len(f.Chains) > 0 && !containsChain(f.Chains, ev.ChainID) {
		return false
	}
	if len(f.Addresses) > 0 {
		var found bool
		for _, addr := range f.Addresses {
			if normalizeAddr(addr) == normalizeAddr(ev.Address) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.FromBlock > 0 && ev.BlockNumber < f.FromBlock {
		return false
	}
	if f.ToBlock > 0 && ev.BlockNumber > f.ToBlock {
		return false
	}
	return true
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id     uint64
	ch     chan *domain.Event
	filter Filter
	bus    *Bus
	once   sync.Once
}

// C returns the channel events are delivered on. It is closed when the
// subscription or the bus closes.
func (s *Subscription) C() <-chan *domain.Event {
	return s.ch
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	// Detach before closing: the once must not touch the bus lock, the
	// bus closes subscriptions while holding it.
	s.bus.unsubscribe(s.id)
	s.once.Do(func() { close(s.ch) })
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	bufSize int
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates a bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return NewBusWithBuffer(DefaultBufferSize)
}

// NewBusWithBuffer creates a bus with a custom per-subscriber buffer depth.
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		bufSize: size,
	}
}

// Subscribe registers a filtered subscriber. Close the subscription when
// done or the bus will keep delivering into its buffer.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		ch:     make(chan *domain.Event, b.bufSize),
		filter: filter,
		bus:    b,
	}
	if !b.closed {
		b.subs[sub.id] = sub
	} else {
		// Late subscribers on a closed bus get an immediately closed channel.
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub
}

// Emit publishes one event to every matching subscriber without blocking.
func (b *Bus) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		}
	}
	return nil
}

// EmitBatch publishes events in order.
func (b *Bus) EmitBatch(ctx context.Context, events []*domain.Event) error {
	for _, ev := range events {
		if err := b.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Dropped returns how many deliveries were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
	return nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// normalizeAddr lowercases hex addresses; SS58 is case-sensitive and kept
// as is.
func normalizeAddr(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}

func containsType(types []domain.EventType, t domain.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsChain(chains []domain.ChainID, c domain.ChainID) bool {
	for _, candidate := range chains {
		if candidate == c {
			return true
		}
	}
	return false
}
