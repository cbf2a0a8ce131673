package core

import (
	"sync"
	"time"

	"pluginhost/pkg/domain"
)

// Lifecycle event names emitted after a successful mutation.
const (
	EventInstalled   = "plugin:installed"
	EventUninstalled = "plugin:uninstalled"
)

// Event is delivered to subscribers. Descriptor is nil when the plugin was
// not on disk at emission time; Record is nil for uninstall events.
type Event struct {
	Name       string
	Key        domain.Key
	Descriptor *domain.Descriptor
	Record     *domain.Record
	At         time.Time
}

// Handler receives events synchronously on the emitting goroutine, after
// the emitting operation has released its key lock.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// eventBus keeps ordered subscriber lists per event name.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string][]subscription)}
}

func (b *eventBus) subscribe(name string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[name]
			for i, s := range list {
				if s.id == id {
					b.subs[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
		})
	}
}

// publish calls the handlers subscribed at call time, in subscription order.
func (b *eventBus) publish(ev Event) int {
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.subs[ev.Name]))
	for _, s := range b.subs[ev.Name] {
		snapshot = append(snapshot, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(ev)
	}
	return len(snapshot)
}

func (b *eventBus) count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
