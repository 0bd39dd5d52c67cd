package sse_test

import (
	"io"
	"log/slog"
	"sync"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// snapshot 是測試用的訊息內容
type snapshot struct {
	ItemID string `json:"itemId" msgpack:"itemId"`
	Amount uint32 `json:"amount" msgpack:"amount"`
}

// fakeBroker 同時扮演跨節點的 subscriber 與 publisher，把發布的訊息直接送回訂閱端
type fakeBroker[T any] struct {
	mu        sync.Mutex
	out       chan T
	published []T
	err       error
}

func newFakeBroker[T any]() *fakeBroker[T] {
	return &fakeBroker[T]{out: make(chan T, 8)}
}

func (b *fakeBroker[T]) Subscribe() <-chan T {
	return b.out
}

func (b *fakeBroker[T]) Publish(data T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, data)
	b.out <- data
	return nil
}

func (b *fakeBroker[T]) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBroker[T]) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}
