//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"
)

// IProducer 把資料寫入 Redis Stream
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IConsumer 從 stream 尾端讀取新資料，每個節點都會收到全部的資料
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 以 consumer group 讀取 stream，每筆資料只會交給群組中的一個成員
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IAutoRenewMutex 是會自動續期的分散式鎖
type IAutoRenewMutex interface {
	// Lock 取得鎖，返回的 context 會在鎖失效時被取消
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
