package bus

import (
	"fmt"
	"reflect"
	"sync"

	"fleetmcp/pkg/logging"
)

// EventHandler receives a published event. Handlers run synchronously, in
// subscription order, and must not block for long: the bus applies no
// backpressure of its own.
type EventHandler func(Event)

// ErrorHandler is invoked when a handler panics or the bus otherwise needs
// to report a delivery fault; it never stops delivery to remaining
// handlers.
type ErrorHandler func(err error, evt Event)

// EventBus is a thread-safe publish/subscribe dispatcher. Subscriptions are
// either scoped to one event type or "firehose" (every event). Delivery is
// synchronous in the publishing goroutine and isolated: one handler's panic
// is recovered, logged, and routed to the registered error handlers, but
// never aborts delivery to the rest.
type EventBus struct {
	mu            sync.Mutex
	handlers      map[reflect.Type][]EventHandler
	firehose      []EventHandler
	errorHandlers []ErrorHandler
}

// New creates an empty EventBus.
func New() *EventBus {
	return &EventBus{handlers: make(map[reflect.Type][]EventHandler)}
}

// Subscribe registers handler for events of the same concrete type as
// sample. sample is used only to key the subscription by type; its value is
// never inspected.
func (b *EventBus) Subscribe(sample Event, handler EventHandler) {
	t := reflect.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// SubscribeAll registers a firehose handler invoked for every event
// published on the bus, regardless of type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.firehose = append(b.firehose, handler)
}

// OnError registers a handler invoked whenever a subscriber panics during a
// publish. Handlers return nothing, so a panic is the only failure reported.
func (b *EventBus) OnError(handler ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandlers = append(b.errorHandlers, handler)
}

// Publish delivers evt to every subscriber of its concrete type, then to
// every firehose subscriber, in subscription order. The bus's internal
// lock is held only long enough to snapshot the handler slices; handlers
// themselves run outside the lock so a slow or reentrant handler cannot
// block subscription changes or other publishers.
func (b *EventBus) Publish(evt Event) {
	t := reflect.TypeOf(evt)

	b.mu.Lock()
	specific := append([]EventHandler(nil), b.handlers[t]...)
	firehose := append([]EventHandler(nil), b.firehose...)
	b.mu.Unlock()

	handlers := make([]EventHandler, 0, len(specific)+len(firehose))
	handlers = append(handlers, specific...)
	handlers = append(handlers, firehose...)

	for _, h := range handlers {
		b.dispatchSafely(h, evt)
	}
}

func (b *EventBus) dispatchSafely(handler EventHandler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("event handler panic: %v", r)
			logging.Error("EventBus", err, "handler panicked while processing %T", evt)
			b.notifyError(err, evt)
		}
	}()
	handler(evt)
}

func (b *EventBus) notifyError(err error, evt Event) {
	b.mu.Lock()
	errorHandlers := append([]ErrorHandler(nil), b.errorHandlers...)
	b.mu.Unlock()

	for _, eh := range errorHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("EventBus", fmt.Errorf("%v", r), "error handler itself panicked")
				}
			}()
			eh(err, evt)
		}()
	}
}
