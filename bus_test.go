package jogarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBusLatestWins(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe("topic")
	defer cancel()
	other, cancelOther := bus.Subscribe("other")
	defer cancelOther()

	for i := 1; i <= 5; i++ {
		bus.Publish("topic", i)
	}
	assert.Equal(t, 5, <-ch)
	select {
	case msg := <-ch:
		t.Fatalf("expected an empty mailbox, got %v", msg)
	default:
	}
	select {
	case msg := <-other:
		t.Fatalf("message leaked to another topic: %v", msg)
	default:
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe("topic")
	defer cancelA()
	b, cancelB := bus.Subscribe("topic")
	defer cancelB()

	bus.Publish("topic", "hello")
	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-b)
}

func TestBusCancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe("topic")
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing without subscribers must not block.
	bus.Publish("topic", 1)
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("topic")
	bus.Close()
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)
	// cancel after Close is a no-op.
	cancel()
	bus.Publish("topic", 1)

	late, _ := bus.Subscribe("topic")
	_, ok = <-late
	assert.False(t, ok)
}
