package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"bidwatch/adapters/sse"
)

var ErrBusClosed = errors.New("nats bus is closed")

// Conn 是 Bus 需要的 *nats.Conn 方法
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type busOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type BusOption func(*busOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) BusOption {
	return func(o *busOptions) {
		o.logger = logger
	}
}

// WithBufferSize 設置下游通道的緩衝大小
func WithBufferSize(size int) BusOption {
	return func(o *busOptions) {
		o.bufferSize = size
	}
}

// Bus 透過 NATS subject 在節點之間轉送頻道訊息
// 頻道 X 對應 subject "<prefix>.X"，訊息內容以 msgpack 編碼。
// 同時實作 sse.ISubscriber 與 sse.IPublisher。
type Bus[T any] struct {
	conn       Conn
	prefix     string
	sub        *nats.Subscription
	downStream chan sse.PublishRequest[T]
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
}

func NewBus[T any](conn Conn, prefix string, opts ...BusOption) (*Bus[T], error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if prefix == "" || strings.ContainsAny(prefix, "*> ") {
		return nil, fmt.Errorf("invalid subject prefix %q", prefix)
	}

	options := busOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Bus[T]{
		conn:       conn,
		prefix:     strings.TrimSuffix(prefix, "."),
		downStream: make(chan sse.PublishRequest[T], options.bufferSize),
		logger:     options.logger.With(slog.String("caller", "NatsBus"), slog.String("prefix", prefix)),
	}, nil
}

// Start 訂閱所有頻道的 subject
func (b *Bus[T]) Start() error {
	const op = "Bus.Start"
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if b.sub != nil {
		return nil
	}

	sub, err := b.conn.Subscribe(b.prefix+".*", b.handle)
	if err != nil {
		return fmt.Errorf("[%s] Fail to subscribe, err=%w", op, err)
	}
	b.sub = sub
	b.logger.Info("subscribed", slog.String("subject", sub.Subject))
	return nil
}

func (b *Bus[T]) handle(msg *nats.Msg) {
	channel, ok := strings.CutPrefix(msg.Subject, b.prefix+".")
	if !ok || channel == "" {
		return
	}

	var data T
	if err := msgpack.Unmarshal(msg.Data, &data); err != nil {
		b.logger.Error("failed to decode message", slog.String("subject", msg.Subject), slog.Any("error", err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	// NATS 的 callback 不能阻塞，下游跟不上時直接丟棄
	select {
	case b.downStream <- sse.PublishRequest[T]{Channel: channel, Message: data}:
	default:
		b.logger.Warn("downstream is full, message dropped", slog.String("channel", channel))
	}
}

func (b *Bus[T]) Subscribe() <-chan sse.PublishRequest[T] {
	return b.downStream
}

func (b *Bus[T]) Publish(req sse.PublishRequest[T]) error {
	const op = "Bus.Publish"
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if req.Channel == "" || strings.ContainsAny(req.Channel, ".*> ") {
		return fmt.Errorf("[%s] invalid channel %q", op, req.Channel)
	}

	data, err := msgpack.Marshal(req.Message)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode message, err=%w", op, err)
	}
	if err := b.conn.Publish(b.prefix+"."+req.Channel, data); err != nil {
		return fmt.Errorf("[%s] Fail to publish, err=%w", op, err)
	}
	return nil
}

// Close 取消訂閱並關閉下游通道，連線本身由呼叫者關閉
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", slog.Any("error", err))
		}
	}
	close(b.downStream)
	b.logger.Info("nats bus closed")
}
