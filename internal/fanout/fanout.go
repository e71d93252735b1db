// Package fanout distributes values to named outlets without blocking the
// producer.
package fanout

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed         = errors.New("fanout: closed")
	ErrOutletExists   = errors.New("fanout: outlet already exists")
	ErrOutletNotFound = errors.New("fanout: outlet not found")
	ErrNilChannel     = errors.New("fanout: nil channel provided")
)

// Policy is what an outlet does when its consumer cannot keep up.
type Policy int

const (
	// DropNew discards the new value when the outlet channel is full.
	DropNew Policy = iota
	// DropOld replaces the value waiting in a Latest holder.
	DropOld
)

func (p Policy) String() string {
	if p == DropOld {
		return "drop-old"
	}
	return "drop-new"
}

// Stats counts deliveries for one outlet.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Delivery reports the outcome of one Publish for one outlet.
type Delivery struct {
	ID        string
	Delivered bool
	// Replaced is set when a DropOld outlet overwrote an unread value, which
	// then counts as dropped.
	Replaced bool
}

type outlet[T any] struct {
	policy  Policy
	ch      chan<- T
	latest  *Latest[T]
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus is a set of outlets. It is safe for concurrent use.
type Bus[T any] struct {
	mu        sync.RWMutex
	outlets   map[string]*outlet[T]
	published atomic.Uint64
	closed    bool
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{outlets: make(map[string]*outlet[T])}
}

// Subscribe adds a DropNew outlet writing to ch. The bus never closes ch.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &outlet[T]{policy: DropNew, ch: ch})
}

// SubscribeLatest adds a DropOld outlet and returns its holder.
func (b *Bus[T]) SubscribeLatest(id string) (*Latest[T], error) {
	l := newLatest[T]()
	if err := b.add(id, &outlet[T]{policy: DropOld, latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus[T]) add(id string, o *outlet[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.outlets[id]; exists {
		return ErrOutletExists
	}
	b.outlets[id] = o
	return nil
}

// Publish offers v to every outlet and reports, per outlet sorted by id,
// whether it was accepted.
func (b *Bus[T]) Publish(v T) []Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	b.published.Add(1)

	out := make([]Delivery, 0, len(b.outlets))
	for id, o := range b.outlets {
		ok, replaced := true, false
		switch o.policy {
		case DropNew:
			select {
			case o.ch <- v:
			default:
				ok = false
			}
		case DropOld:
			ok, replaced = o.latest.set(v)
		}
		if ok {
			o.sent.Add(1)
		} else {
			o.dropped.Add(1)
		}
		if replaced {
			// The overwritten value was counted as sent but never received.
			o.sent.Add(^uint64(0))
			o.dropped.Add(1)
		}
		out = append(out, Delivery{ID: id, Delivered: ok, Replaced: replaced})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unsubscribe removes an outlet.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, exists := b.outlets[id]
	if !exists {
		return ErrOutletNotFound
	}
	if o.latest != nil {
		o.latest.Close()
	}
	delete(b.outlets, id)
	return nil
}

// Stats returns the counters of one outlet.
func (b *Bus[T]) Stats(id string) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, exists := b.outlets[id]
	if !exists {
		return Stats{}, ErrOutletNotFound
	}
	return Stats{Sent: o.sent.Load(), Dropped: o.dropped.Load()}, nil
}

// AllStats returns the counters of every outlet.
func (b *Bus[T]) AllStats() map[string]Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Stats, len(b.outlets))
	for id, o := range b.outlets {
		out[id] = Stats{Sent: o.sent.Load(), Dropped: o.dropped.Load()}
	}
	return out
}

// Published returns the number of Publish calls on an open bus.
func (b *Bus[T]) Published() uint64 { return b.published.Load() }

// Close removes every outlet. Later Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, o := range b.outlets {
		if o.latest != nil {
			o.latest.Close()
		}
	}
	b.outlets = nil
}

// Latest holds the most recent value of a DropOld outlet.
type Latest[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	ok     bool
	closed bool
}

func newLatest[T any]() *Latest[T] {
	l := &Latest[T]{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// set stores v. replaced reports whether an unread value was overwritten.
func (l *Latest[T]) set(v T) (accepted, replaced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, false
	}
	replaced = l.ok
	l.value, l.ok = v, true
	l.cond.Broadcast()
	return true, replaced
}

// Receive blocks until a value is available and takes it. ok is false once
// the holder is closed.
func (l *Latest[T]) Receive() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.ok && !l.closed {
		l.cond.Wait()
	}
	if !l.ok {
		return v, false
	}
	v = l.value
	var zero T
	l.value, l.ok = zero, false
	return v, true
}

// TryReceive takes the value if one is waiting.
func (l *Latest[T]) TryReceive() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ok {
		return v, false
	}
	v = l.value
	var zero T
	l.value, l.ok = zero, false
	return v, true
}

// Close wakes blocked receivers.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}
