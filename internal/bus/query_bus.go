package bus

import (
	"fmt"
	"reflect"
	"sync"
)

// Query represents a pure read request. Query handlers must never emit
// events or otherwise mutate state; that contract is enforced by
// convention at the handler author's boundary, not by this bus.
type Query interface{}

// QueryHandler executes a query and returns its result.
type QueryHandler func(Query) (interface{}, error)

// QueryBus dispatches queries to their single registered handler. Shares
// the same single-handler-per-type discipline as CommandBus, kept as a
// separate type so read and write dispatch can never be accidentally
// cross-registered.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]QueryHandler
}

func NewQueryBus() *QueryBus {
	return &QueryBus{handlers: make(map[reflect.Type]QueryHandler)}
}

func (b *QueryBus) Register(sample Query, handler QueryHandler) error {
	t := reflect.TypeOf(sample)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("handler already registered for %s", t)
	}
	b.handlers[t] = handler
	return nil
}

func (b *QueryBus) Send(query Query) (interface{}, error) {
	t := reflect.TypeOf(query)

	b.mu.RLock()
	handler, exists := b.handlers[t]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no handler registered for %s", t)
	}
	return handler(query)
}
