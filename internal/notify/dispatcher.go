// Package notify fans session events out to notification channels: the
// realtime Kafka topic consumed by the notify worker, and the push gateway
// that reaches user devices. Delivery is best-effort and never blocks the
// lifecycle operation that produced the event.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"twentymin-coach/backend/internal/eventbus"
	"twentymin-coach/backend/internal/session/event"
)

// dispatchTimeout is the max time allowed for a single async dispatch. Used
// by Attach and by ShutdownDrainDuration.
const dispatchTimeout = 5 * time.Second

// ShutdownDrainDuration bounds Attachment.Drain at shutdown. Must be >=
// dispatchTimeout so an in-flight dispatch can always run to completion.
const ShutdownDrainDuration = dispatchTimeout

// Dispatcher delivers one session event to a notification channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, p event.Payload) error
}

// Attachment tracks the bus subscriptions and in-flight dispatches created by
// Attach, so shutdown can drain only what is actually outstanding.
type Attachment struct {
	Subs []eventbus.Subscription

	wg sync.WaitGroup
}

// Drain waits for in-flight dispatches to finish, up to timeout. It returns
// false when the timeout elapsed first. When nothing is in flight it returns
// immediately.
func (a *Attachment) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Attach subscribes d to every session event type on the bus, one handler per
// type. Each event is dispatched in its own goroutine with a short timeout so
// publishers are not blocked; failures are logged. The goroutine uses
// context.Background() so request cancellation does not abort an in-flight
// dispatch. Attach at most once per bus; use a Fanout to reach multiple
// channels.
func Attach(bus *eventbus.Bus, name string, d Dispatcher) *Attachment {
	a := &Attachment{Subs: make([]eventbus.Subscription, 0, len(event.Types))}
	for _, typ := range event.Types {
		a.Subs = append(a.Subs, bus.Subscribe(typ, func(ctx context.Context, payload any) error {
			p, ok := payload.(event.Payload)
			if !ok {
				return nil
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				dispatchCtx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
				defer cancel()
				if err := d.Dispatch(dispatchCtx, p); err != nil {
					log.Printf("notify: %s dispatch failed for %s: %v", name, p.Event, err)
				}
			}()
			return nil
		}))
	}
	return a
}

type channel struct {
	name string
	d    Dispatcher
}

// Fanout delivers each event to every added channel. Channels are independent:
// one failing does not stop the others, and each failure is logged under the
// channel's name.
type Fanout struct {
	channels []channel
}

// NewFanout returns an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a named channel. Not safe to call after Attach.
func (f *Fanout) Add(name string, d Dispatcher) *Fanout {
	f.channels = append(f.channels, channel{name: name, d: d})
	return f
}

// Dispatch delivers p to every channel in registration order.
func (f *Fanout) Dispatch(ctx context.Context, p event.Payload) error {
	for _, c := range f.channels {
		if err := c.d.Dispatch(ctx, p); err != nil {
			log.Printf("notify: %s dispatch failed for %s: %v", c.name, p.Event, err)
		}
	}
	return nil
}
