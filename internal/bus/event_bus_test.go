package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_SubscriptionOrder(t *testing.T) {
	b := New()
	var order []string
	var mu sync.Mutex

	b.Subscribe(ProviderStarted{}, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
	})
	b.Subscribe(ProviderStarted{}, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
	})

	b.Publish(NewProviderStarted("math", "subprocess", 1, 0))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventBus_TypeScopedDoesNotLeak(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(ProviderStopped{}, func(e Event) { called = true })

	b.Publish(NewProviderStarted("math", "subprocess", 1, 0))

	assert.False(t, called, "ProviderStopped subscriber must not receive ProviderStarted events")
}

func TestEventBus_Firehose(t *testing.T) {
	b := New()
	var seen []Event
	b.SubscribeAll(func(e Event) { seen = append(seen, e) })

	b.Publish(NewProviderStarted("math", "subprocess", 1, 0))
	b.Publish(NewProviderStopped("math", "idle"))

	assert.Len(t, seen, 2)
}

func TestEventBus_HandlerPanicIsolated(t *testing.T) {
	b := New()
	secondCalled := false

	b.Subscribe(ProviderStarted{}, func(e Event) { panic("boom") })
	b.Subscribe(ProviderStarted{}, func(e Event) { secondCalled = true })

	var gotErr error
	b.OnError(func(err error, evt Event) { gotErr = err })

	assert.NotPanics(t, func() {
		b.Publish(NewProviderStarted("math", "subprocess", 1, 0))
	})
	assert.True(t, secondCalled, "handler after a panicking one must still run")
	assert.Error(t, gotErr)
}
