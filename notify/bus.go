package notify

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentsquad/logging"
)

// Listener receives notifications. Listeners run synchronously on the
// publishing goroutine and must not block.
type Listener interface {
	Notify(n Notification)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(n Notification)

// Notify calls f(n).
func (f ListenerFunc) Notify(n Notification) { f(n) }

// Options configures a Bus.
type Options struct {
	// Logger receives listener panics. Defaults to NoOp.
	Logger logging.Logger
}

type subscription struct {
	id       uint64
	listener Listener
	kinds    map[Kind]bool // nil accepts every kind
}

// Bus is a typed publish/subscribe hub with an explicit subscriber list.
// It is safe for concurrent use; a nil *Bus discards every publish.
type Bus struct {
	logger logging.Logger
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
}

// NewBus creates an empty Bus.
func NewBus(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{logger: opts.Logger}
}

// Subscribe registers l for the given kinds (all kinds when none are given)
// and returns a function removing the subscription.
func (b *Bus) Subscribe(l Listener, kinds ...Kind) func() {
	sub := &subscription{listener: l}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

// SubscribeFunc is a convenience wrapper around Subscribe.
func (b *Bus) SubscribeFunc(fn func(n Notification), kinds ...Kind) func() {
	return b.Subscribe(ListenerFunc(fn), kinds...)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers n to every matching listener in registration order.
// A panicking listener is logged and does not affect the others.
func (b *Bus) Publish(n Notification) {
	if b == nil || n == nil {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	kind := n.Kind()
	for _, s := range subs {
		if s.kinds != nil && !s.kinds[kind] {
			continue
		}
		b.deliver(s, n)
	}
}

func (b *Bus) deliver(s *subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification listener panicked", "kind", string(n.Kind()), "panic", fmt.Sprint(r))
		}
	}()
	s.listener.Notify(n)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
