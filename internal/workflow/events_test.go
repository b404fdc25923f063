package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(8)
	defer cancel()

	b.Publish(Event{Type: EventRoundStart, Round: 1})
	b.Publish(Event{Type: EventQualityComputed, Round: 1})
	b.Close()

	var types []EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventRoundStart, EventQualityComputed}, types)
}

func TestBroadcasterReplaysBacklogToLateSubscriber(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(Event{Type: EventRoundStart, Round: 0})
	b.Publish(Event{Type: EventGenerationComplete, ModelID: "alpha"})

	ch, cancel := b.Subscribe(4)
	defer cancel()
	b.Publish(Event{Type: EventWorkflowComplete})
	b.Close()

	var types []EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	require.Len(t, types, 3)
	assert.Equal(t, EventRoundStart, types[0])
	assert.Equal(t, EventWorkflowComplete, types[2])
}

func TestBroadcasterNeverBlocksPublisher(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	// Publish more than the subscriber can hold; extra events drop.
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: EventRoundStart, Round: i})
	}
	b.Close()

	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Round)
}

func TestBroadcasterSubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(Event{Type: EventRoundStart})
	b.Close()

	ch, cancel := b.Subscribe(4)
	defer cancel()

	// The backlog is still replayed; the channel is already closed.
	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventRoundStart, ev.Type)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestBroadcasterTimestampsEvents(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Type: EventRoundStart})
	ev := <-ch
	assert.False(t, ev.Timestamp.IsZero())
}
