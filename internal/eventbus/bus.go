// Package eventbus provides a process-wide publish/subscribe primitive that
// decouples session lifecycle code from notification consumers. The bus has no
// domain knowledge: events are a name plus an opaque payload.
package eventbus

import (
	"context"
	"log"
	"reflect"
	"sync"
)

// Handler consumes a published event. A non-nil return is logged and contained;
// it never reaches the publisher or other handlers. Handlers that do I/O should
// hand off to a background task rather than block the publisher.
type Handler func(ctx context.Context, payload any) error

// Subscription identifies one registration and is the token for Unsubscribe.
type Subscription struct {
	eventType string
	id        uint64
}

type entry struct {
	id  uint64
	key uintptr // handler func identity, for idempotent Subscribe
	h   Handler
}

// Bus routes published events to subscribers per event type. The zero value is
// not usable; call New. Publishing with no subscribers is a no-op. All methods
// are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]entry
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]entry)}
}

// Subscribe registers h for eventType and returns a Subscription for later
// removal. Subscribing the identical handler twice for the same event type is
// a no-op and returns the existing registration. Delivery order among handlers
// for one event type follows subscription order.
func (b *Bus) Subscribe(eventType string, h Handler) Subscription {
	if h == nil {
		return Subscription{}
	}
	key := reflect.ValueOf(h).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.subs[eventType] {
		if e.key == key {
			return Subscription{eventType: eventType, id: e.id}
		}
	}
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], entry{id: id, key: key, h: h})
	return Subscription{eventType: eventType, id: id}
}

// Unsubscribe removes the registration identified by sub. Removing an already
// removed (or zero) subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	if sub.id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.eventType]
	for i, e := range list {
		if e.id == sub.id {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.eventType]) == 0 {
		delete(b.subs, sub.eventType)
	}
}

// Publish synchronously invokes every current subscriber for eventType with
// payload, in subscription order. A handler error or panic is logged and does
// not stop delivery to the remaining subscribers. Publish itself never fails.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any) {
	b.mu.RLock()
	snapshot := make([]entry, len(b.subs[eventType]))
	copy(snapshot, b.subs[eventType])
	b.mu.RUnlock()

	for _, e := range snapshot {
		invoke(ctx, eventType, e, payload)
	}
}

// invoke runs one handler, containing panics and logging failures.
func invoke(ctx context.Context, eventType string, e entry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: handler %d panicked on %s: %v", e.id, eventType, r)
		}
	}()
	if err := e.h(ctx, payload); err != nil {
		log.Printf("eventbus: handler %d failed on %s: %v", e.id, eventType, err)
	}
}

// SubscriberCount returns the number of current subscribers for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// EventTypes returns the event types that currently have subscribers.
func (b *Bus) EventTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	return out
}

// ClearAll removes every subscription. Used at teardown and on logout.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]entry)
}
