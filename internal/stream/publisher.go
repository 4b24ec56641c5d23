// Package stream provides a hot multicast publisher with explicit
// subscribe, unsubscribe and completion.
package stream

import (
	"sort"
	"sync"
)

// Observer receives values and, once, the completion signal.
// Either callback may be nil.
type Observer[T any] struct {
	Next     func(T)
	Complete func()
}

// Source is the subscribe-only view of a Publisher.
type Source[T any] interface {
	Subscribe(o Observer[T]) *Subscription
}

// Subscription detaches one observer.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery to the observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Publisher fans values out to the observers subscribed at the time of
// Publish. Late subscribers see nothing that was published before them.
// Observers must not Publish or Complete on the same publisher from a callback.
type Publisher[T any] struct {
	emitMu sync.Mutex // orders deliveries

	mu     sync.Mutex
	subs   map[uint64]Observer[T]
	nextID uint64
	done   bool
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[uint64]Observer[T])}
}

// Subscribe attaches o. On a completed publisher o.Complete fires immediately.
func (p *Publisher[T]) Subscribe(o Observer[T]) *Subscription {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		if o.Complete != nil {
			o.Complete()
		}
		return &Subscription{}
	}
	subID := p.nextID
	p.nextID++
	p.subs[subID] = o
	p.mu.Unlock()

	return &Subscription{cancel: func() {
		p.mu.Lock()
		delete(p.subs, subID)
		p.mu.Unlock()
	}}
}

// Publish delivers v to every current observer, in subscription order.
func (p *Publisher[T]) Publish(v T) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	for _, o := range p.snapshot() {
		if o.Next != nil {
			o.Next(v)
		}
	}
}

// Complete signals completion to every observer and drops them all.
// Later Publish calls are no-ops.
func (p *Publisher[T]) Complete() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	observers := p.snapshotAll()
	for _, o := range observers {
		if o.Complete != nil {
			o.Complete()
		}
	}
}

func (p *Publisher[T]) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Len reports the number of attached observers.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher[T]) snapshot() []Observer[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	return p.ordered()
}

func (p *Publisher[T]) snapshotAll() []Observer[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.ordered()
	p.subs = make(map[uint64]Observer[T])
	return out
}

// ordered must be called with p.mu held.
func (p *Publisher[T]) ordered() []Observer[T] {
	ids := make([]uint64, 0, len(p.subs))
	for subID := range p.subs {
		ids = append(ids, subID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Observer[T], 0, len(ids))
	for _, subID := range ids {
		out = append(out, p.subs[subID])
	}
	return out
}
