package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := NewConsumer[snapshot](nil, snapshotStream)
	assert.ErrorContains(t, err, "redis client cannot be nil")

	client := redis.NewClient(&redis.Options{})
	defer client.Close()
	_, err = NewConsumer[snapshot](client, "")
	assert.ErrorContains(t, err, "stream cannot be empty")

	consumer, err := NewConsumer[snapshot](client, snapshotStream)
	assert.NoError(t, err)
	assert.NotNil(t, consumer.Subscribe(), "downstream is available before Start")
}

func TestConsumer_StartClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{snapshotStream, "$"},
		Count:   1,
		Block:   time.Second,
	}).SetErr(redis.Nil)

	consumer, err := NewConsumer[snapshot](client, snapshotStream,
		WithConsumerLogger[snapshot](discardLogger),
		WithConsumerRetryDelay[snapshot](time.Hour),
	)
	require.NoError(t, err)

	// Close before Start is a no-op
	consumer.Close()

	consumer.Start()
	consumer.Start()
	time.Sleep(100 * time.Millisecond)
	consumer.Close()
	consumer.Close()

	_, ok := <-consumer.Subscribe()
	assert.False(t, ok, "downstream should be closed")
}

func TestConsumer_Receive(t *testing.T) {
	t.Run("delivers decoded snapshots in order", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		first := snapshot{ItemID: "item-1", BidID: "bid-1", Amount: 100}
		second := snapshot{ItemID: "item-1", BidID: "bid-2", Amount: 150}
		firstValues, err := EncodeValues(first)
		require.NoError(t, err)
		secondValues, err := EncodeValues(second)
		require.NoError(t, err)

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{snapshotStream, "$"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{{
			Stream:   snapshotStream,
			Messages: []redis.XMessage{{ID: "1-0", Values: firstValues}},
		}})
		// 下一次從上一筆的 ID 之後開始讀
		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{snapshotStream, "1-0"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{{
			Stream:   snapshotStream,
			Messages: []redis.XMessage{{ID: "2-0", Values: secondValues}},
		}})

		consumer, err := NewConsumer[snapshot](client, snapshotStream,
			WithConsumerLogger[snapshot](discardLogger),
			WithConsumerRetryDelay[snapshot](time.Hour),
		)
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		for _, want := range []snapshot{first, second} {
			select {
			case got := <-consumer.Subscribe():
				assert.Equal(t, want, got)
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for message")
			}
		}
	})

	t.Run("custom start id", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{snapshotStream, "0"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{})

		consumer, err := NewConsumer[snapshot](client, snapshotStream,
			WithConsumerLogger[snapshot](discardLogger),
			WithConsumerStartID[snapshot]("0"),
			WithConsumerRetryDelay[snapshot](time.Hour),
		)
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case <-consumer.Subscribe():
			t.Fatal("should not receive message from empty stream")
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("undecodable entries are skipped", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{snapshotStream, "$"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{{
			Stream:   snapshotStream,
			Messages: []redis.XMessage{{ID: "1-0", Values: map[string]any{"payload": "garbage"}}},
		}})

		consumer, err := NewConsumer[snapshot](client, snapshotStream,
			WithConsumerLogger[snapshot](discardLogger),
			WithConsumerRetryDelay[snapshot](time.Hour),
			WithConsumerDecodeFunc[snapshot](func(map[string]any) (snapshot, error) {
				return snapshot{}, errors.New("failed to decode")
			}),
		)
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case <-consumer.Subscribe():
			t.Fatal("should not receive invalid message")
		case <-time.After(200 * time.Millisecond):
		}
	})
}
