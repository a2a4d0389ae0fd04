// Package event is a small typed in-process publish/subscribe bus.
package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is implemented by anything that can be published. Type must return
// a value unique to the concrete event type.
type Event interface {
	Type() uint32
}

type subscriber struct {
	id      uint64
	handler func(Event)
}

// Dispatcher fans out published events to the subscribers of that type.
// Handlers run synchronously on the publishing goroutine.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	subs   map[uint32][]subscriber
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[uint32][]subscriber)}
}

// Default is the process wide dispatcher used by On and Emit.
var Default = NewDispatcher()

// Subscribe registers handler for events of type T on d. The returned
// function removes the subscription.
func Subscribe[T Event](d *Dispatcher, handler func(T)) context.CancelFunc {
	var zero T
	eventType := zero.Type()
	id := d.nextID.Add(1)

	d.mu.Lock()
	d.subs[eventType] = append(d.subs[eventType], subscriber{
		id: id,
		handler: func(ev Event) {
			if typed, ok := ev.(T); ok {
				handler(typed)
			}
		},
	})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			current := d.subs[eventType]
			for i, sub := range current {
				if sub.id == id {
					d.subs[eventType] = append(current[:i:i], current[i+1:]...)
					break
				}
			}
			if len(d.subs[eventType]) == 0 {
				delete(d.subs, eventType)
			}
		})
	}
}

// Publish delivers ev to every subscriber of its type.
func Publish[T Event](d *Dispatcher, ev T) {
	d.mu.RLock()
	current := make([]subscriber, len(d.subs[ev.Type()]))
	copy(current, d.subs[ev.Type()])
	d.mu.RUnlock()

	for _, sub := range current {
		sub.handler(ev)
	}
}

// On subscribes to the default dispatcher.
func On[T Event](handler func(T)) context.CancelFunc {
	return Subscribe(Default, handler)
}

// Emit publishes to the default dispatcher.
func Emit[T Event](ev T) {
	Publish(Default, ev)
}
