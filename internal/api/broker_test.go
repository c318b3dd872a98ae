package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := RunEvent{Type: EventStarted, Data: map[string]any{"x": 1}}
	b.Publish(rid, evt)
	b.Publish("other", RunEvent{Type: EventFailed})

	select {
	case got := <-ch:
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, 1, got.Data["x"])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(rid, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// second unsubscribe is a no-op
	b.Unsubscribe(rid, ch)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r")
	for i := 0; i < 20; i++ {
		b.Publish("r", RunEvent{Type: EventQueued})
	}
	require.Len(t, ch, cap(ch))
	b.Unsubscribe("r", ch)
}

func TestTerminal(t *testing.T) {
	assert.True(t, RunEvent{Type: EventSucceeded}.Terminal())
	assert.True(t, RunEvent{Type: EventFailed}.Terminal())
	assert.False(t, RunEvent{Type: EventStarted}.Terminal())
}
