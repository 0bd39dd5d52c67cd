package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bidwatch/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[snapshot]()

	// 測試訂閱
	sub := ch.Subscribe()
	assert.NotNil(t, sub)

	// 測試廣播訊息
	msg := snapshot{ItemID: "item-1", Amount: 100}
	assert.Equal(t, 0, ch.Broadcast(msg))

	select {
	case received := <-sub:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	ch.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed")

	// 測試 IsIdle
	assert.True(t, ch.IsIdle(), "channel should be idle")
}

func TestChannel_SlowSubscriberDropsMessages(t *testing.T) {
	ch := sse.NewBufferedChannel[snapshot](1)
	slow := ch.Subscribe()
	fast := ch.Subscribe()

	assert.Equal(t, 0, ch.Broadcast(snapshot{ItemID: "item-1", Amount: 1}))
	<-fast

	// slow 的緩衝已滿，第二則訊息只會送到 fast
	assert.Equal(t, 1, ch.Broadcast(snapshot{ItemID: "item-1", Amount: 2}))
	assert.Equal(t, uint32(2), (<-fast).Amount)
	assert.Equal(t, uint32(1), (<-slow).Amount)

	ch.UnsubscribeAll()
	_, ok := <-slow
	assert.False(t, ok)
	_, ok = <-fast
	assert.False(t, ok)
	assert.True(t, ch.IsIdle())
}
