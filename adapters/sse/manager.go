package sse

import (
	"context"
	"log/slog"
	"sync"
)

type connectionManagerOptions[T any] struct {
	logger     *slog.Logger
	subscriber ISubscriber[PublishRequest[T]]
	publisher  IPublisher[PublishRequest[T]]
	bufferSize int
}

type ConnectionManagerOption[T any] func(*connectionManagerOptions[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) ConnectionManagerOption[T] {
	return func(o *connectionManagerOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriber 設置跨節點訊息的來源
func WithSubscriber[T any](subscriber ISubscriber[PublishRequest[T]]) ConnectionManagerOption[T] {
	return func(o *connectionManagerOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithPublisher 設置跨節點訊息的發布者，未設置時 Publish 只會廣播給本節點的訂閱者
func WithPublisher[T any](publisher IPublisher[PublishRequest[T]]) ConnectionManagerOption[T] {
	return func(o *connectionManagerOptions[T]) {
		o.publisher = publisher
	}
}

// WithChannelBufferSize 設置每個訂閱者通道的緩衝大小
func WithChannelBufferSize[T any](size int) ConnectionManagerOption[T] {
	return func(o *connectionManagerOptions[T]) {
		o.bufferSize = size
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與發布。
// 每個應用程式實例建立一個，透過 subscriber/publisher 實現跨節點的訊息廣播。
// subscriber 與 publisher 的生命週期由呼叫者管理。
type connectionManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex   // 保護 active 和 channels 的讀寫
	wg     sync.WaitGroup // 用於等待所有 goroutine 完成
	active bool           // 標記 manager 是否正在運作中

	channels map[string]*Channel[T] // 儲存所有活躍的頻道
	options  connectionManagerOptions[T]
}

// NewConnectionManager 建立一個新的連線管理器。
func NewConnectionManager[T any](opts ...ConnectionManagerOption[T]) (IConnectionManager[T], error) {
	options := connectionManagerOptions[T]{
		logger:     slog.Default(),
		bufferSize: DefaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &connectionManager[T]{
		ctx:      ctx,
		cancel:   cancel,
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		channels: make(map[string]*Channel[T]),
		active:   true,
		options:  options,
	}, nil
}

// Start 啟動連線管理器，開始處理訊息的接收與廣播。
// 有設置 subscriber 時，應在 subscriber 啟動之後呼叫。
func (cm *connectionManager[T]) Start() {
	if cm.options.subscriber == nil {
		return
	}
	messages := cm.options.subscriber.Subscribe()

	// 啟動訊息處理的 goroutine
	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		defer cm.logger.Info("connection manager stopped")
		for {
			select {
			case <-cm.ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				cm.broadcast(msg)
			}
		}
	}()
}

func (cm *connectionManager[T]) broadcast(msg PublishRequest[T]) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	channel, ok := cm.channels[msg.Channel]
	if !ok {
		return
	}
	if dropped := channel.Broadcast(msg.Message); dropped > 0 {
		cm.logger.Warn("slow subscribers missed a message",
			slog.String("channel", msg.Channel),
			slog.Int("dropped", dropped))
	}
}

// Done 停止連線管理器的運作。
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.cancel()
	cm.mu.Unlock()

	// 等待處理中的廣播結束後才關閉所有頻道
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定的頻道。
// channelName: 要訂閱的頻道名稱
// 返回: 用於接收訊息的唯讀通道，以及可能的錯誤
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = newChannel[T](cm.options.bufferSize)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布訊息到指定的頻道。
// channelName: 目標頻道名稱
// data: 要發布的訊息內容
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	active := cm.active
	cm.mu.RUnlock()

	if !active {
		return context.Canceled
	}

	request := PublishRequest[T]{
		Channel: channelName,
		Message: data,
	}
	if cm.options.publisher != nil {
		return cm.options.publisher.Publish(request)
	}
	cm.broadcast(request)
	return nil
}

// Unsubscribe 取消訂閱指定的頻道。
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}

// Subscribers 返回指定頻道目前的訂閱數量
func (cm *connectionManager[T]) Subscribers(channelName string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return 0
	}
	return c.size()
}
