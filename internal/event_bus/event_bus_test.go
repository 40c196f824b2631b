package event_bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_Publish(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	bus.Subscribe(TodoChanged, func(e Event) error {
		calls = append(calls, "first")
		return nil
	})
	SubscribeTyped(bus, TodoChanged, func(e EventT[TodoChange]) error {
		calls = append(calls, "typed:"+e.Data.Action)
		return nil
	})
	bus.Subscribe(CalendarEventDeleted, func(e Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := bus.Publish(NewEvent(context.Background(), TodoChanged, TodoChange{Day: "2025-10-01", Action: "added"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "typed:added"}, calls)
}

func TestEventBus_TypedHandlerSkipsOtherPayloads(t *testing.T) {
	bus := NewEventBus()
	called := false
	SubscribeTyped(bus, TodoChanged, func(e EventT[TodoChange]) error {
		called = true
		return nil
	})

	require.NoError(t, bus.Publish(NewEvent(context.Background(), TodoChanged, "not a todo change")))
	require.NoError(t, bus.Publish(NewEvent(context.Background(), TodoChanged, nil)))
	assert.False(t, called)
}

func TestEventBus_ErrorsAndPanicsAreCollected(t *testing.T) {
	bus := NewEventBus()
	reached := false
	boom := errors.New("boom")

	bus.Subscribe(TodoChanged, func(e Event) error { return boom })
	bus.Subscribe(TodoChanged, func(e Event) error { panic("bad handler") })
	bus.Subscribe(TodoChanged, func(e Event) error {
		reached = true
		return nil
	})

	err := bus.Publish(NewEvent(context.Background(), TodoChanged, TodoChange{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad handler")
	assert.True(t, reached)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	count := 0
	unsubscribe := bus.Subscribe(TodoChanged, func(e Event) error {
		count++
		return nil
	})

	require.NoError(t, bus.Publish(NewEvent(context.Background(), TodoChanged, TodoChange{})))
	unsubscribe()
	require.NoError(t, bus.Publish(NewEvent(context.Background(), TodoChanged, TodoChange{})))
	assert.Equal(t, 1, count)
}

func TestEventBus_CancelledContext(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(TodoChanged, func(e Event) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(NewEvent(ctx, TodoChanged, TodoChange{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
