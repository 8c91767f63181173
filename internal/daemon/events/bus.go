package events

import (
	"context"
	"fmt"
	"sync"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

// Bus fans controller events out to typed subscribers inside the process.
// Publish waits until every matching subscriber took the event or ctx ends.
// Nothing is persisted here; build history lives in internal/eventstore.
type Bus struct {
	mu     sync.RWMutex
	sinks  map[uint64]sink
	next   uint64
	closed bool
}

// sink is a subscription with its type parameter erased.
type sink interface {
	offer(ctx context.Context, evt any) error
	shut()
}

func NewBus() *Bus {
	return &Bus{sinks: make(map[uint64]sink)}
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
	// offers hold gate for reading so shut cannot close ch under them.
	gate sync.RWMutex
	once sync.Once
}

func (s *subscription[T]) offer(ctx context.Context, evt any) error {
	v, ok := evt.(T)
	if !ok {
		return nil
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.ch <- v:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
			WithContext("event_type", fmt.Sprintf("%T", evt)).
			Build()
	}
}

func (s *subscription[T]) shut() {
	s.once.Do(func() {
		close(s.done)
		s.gate.Lock()
		close(s.ch)
		s.gate.Unlock()
	})
}

// Subscribe returns a channel receiving every published event assignable to
// T, which may be an interface. The returned func unsubscribes and closes the
// channel. On a closed bus the channel comes back already closed.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	s := &subscription[T]{ch: make(chan T, buffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.shut()
		return s.ch, func() {}
	}
	b.next++
	id := b.next
	b.sinks[id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
		s.shut()
	}
}

// SubscriberCount reports how many subscriptions were made for exactly T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.sinks {
		if _, ok := s.(*subscription[T]); ok {
			n++
		}
	}
	return n
}

// Publish hands evt to every matching subscriber in turn and stops at the
// first one that could not take it before ctx ended.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ferrors.DaemonError("event bus is closed").Build()
	}
	targets := make([]sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.offer(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects further publishes and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sinks := b.sinks
	b.sinks = make(map[uint64]sink)
	b.mu.Unlock()

	for _, s := range sinks {
		s.shut()
	}
}
