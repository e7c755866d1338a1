package bridge

import (
	"testing"
	"time"

	"github.com/rpilot/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPublishSubscribeBroadcast(t *testing.T) {
	b := NewLocal()
	ch1, unsub1 := b.Subscribe("state")
	ch2, unsub2 := b.Subscribe("state")
	defer unsub1()
	defer unsub2()

	require.NoError(t, b.Publish("state", types.Message{Topic: types.TopicState}))

	select {
	case msg := <-ch1:
		assert.Equal(t, types.TopicState, msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 did not receive message")
	}
	select {
	case msg := <-ch2:
		assert.Equal(t, types.TopicState, msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 did not receive message")
	}
}

func TestLocalSubscribeIsolatedByTopic(t *testing.T) {
	b := NewLocal()
	ch, unsub := b.Subscribe("control")
	defer unsub()

	require.NoError(t, b.Publish("state", types.Message{Topic: types.TopicState}))

	select {
	case <-ch:
		t.Fatal("subscriber on a different topic should not receive the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalQueueFIFO(t *testing.T) {
	b := NewLocal()
	require.NoError(t, b.Put("tasks", types.Message{Originator: "a"}))
	require.NoError(t, b.Put("tasks", types.Message{Originator: "b"}))

	first, ok := b.Get("tasks")
	require.True(t, ok)
	assert.Equal(t, "a", first.Originator)

	second, ok := b.Get("tasks")
	require.True(t, ok)
	assert.Equal(t, "b", second.Originator)

	_, ok = b.Get("tasks")
	assert.False(t, ok)
}

func TestLocalCloseClosesSubscriberChannels(t *testing.T) {
	b := NewLocal()
	ch, _ := b.Subscribe("state")

	require.NoError(t, b.Close())

	_, open := <-ch
	assert.False(t, open)

	err := b.Publish("state", types.Message{})
	assert.Error(t, err)
}
