package bus

import (
	"fmt"
	"reflect"
	"sync"
)

// Command represents intent to mutate system state.
type Command interface{}

// CommandHandler executes a command and returns its result.
type CommandHandler func(Command) (interface{}, error)

// CommandBus dispatches commands to their single registered handler.
// Registration is exclusive: registering a second handler for a type
// already registered is an error. The bus itself holds no business state
// beyond its routing table and is safe to share across goroutines.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]CommandHandler
}

func NewCommandBus() *CommandBus {
	return &CommandBus{handlers: make(map[reflect.Type]CommandHandler)}
}

// Register binds handler to the concrete type of sample. Returns an error
// if a handler is already registered for that type.
func (b *CommandBus) Register(sample Command, handler CommandHandler) error {
	t := reflect.TypeOf(sample)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("handler already registered for %s", t)
	}
	b.handlers[t] = handler
	return nil
}

// Unregister removes the handler for the concrete type of sample, if any.
// Reports whether a handler was removed.
func (b *CommandBus) Unregister(sample Command) bool {
	t := reflect.TypeOf(sample)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[t]; !exists {
		return false
	}
	delete(b.handlers, t)
	return true
}

// Send dispatches cmd to its registered handler and returns the handler's
// result, or an error if no handler is registered.
func (b *CommandBus) Send(cmd Command) (interface{}, error) {
	t := reflect.TypeOf(cmd)

	b.mu.RLock()
	handler, exists := b.handlers[t]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no handler registered for %s", t)
	}
	return handler(cmd)
}

// HasHandler reports whether a handler is registered for the concrete type
// of sample.
func (b *CommandBus) HasHandler(sample Command) bool {
	t := reflect.TypeOf(sample)
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.handlers[t]
	return exists
}
