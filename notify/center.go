package notify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/smallnest/chanx"
)

// ErrCenterClosed 表示通知中心已關閉
var ErrCenterClosed = errors.New("notification center is closed")

// DefaultTTL 是通知預設的自動關閉時間
const DefaultTTL = 2 * time.Second

// Kind 代表通知的種類
type Kind string

const (
	// KindOutbid 使用者原本的最高出價被其他人超過
	KindOutbid Kind = "outbid"
	// KindBidPlaced 其他使用者出價
	KindBidPlaced Kind = "bid_placed"
)

// Notification 是一則會自動關閉的通知
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ItemID    string    `json:"itemId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type EventType string

const (
	EventShow    EventType = "show"
	EventDismiss EventType = "dismiss"
)

// DismissReason 說明通知被移除的原因
type DismissReason string

const (
	ReasonExpired   DismissReason = "expired"
	ReasonDismissed DismissReason = "dismissed"
)

// Event 是通知中心對外發出的事件
type Event struct {
	Type         EventType     `json:"type"`
	Reason       DismissReason `json:"reason,omitempty"`
	Notification Notification  `json:"notification"`
}

type centerOptions struct {
	logger     *slog.Logger
	defaultTTL time.Duration
	clock      func() time.Time
	bufferSize int
}

type Option func(*centerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *centerOptions) {
		o.logger = logger
	}
}

// WithDefaultTTL 設置沒有指定時間時的自動關閉時間
func WithDefaultTTL(d time.Duration) Option {
	return func(o *centerOptions) {
		o.defaultTTL = d
	}
}

// WithClock 設置取得目前時間的函數
func WithClock(clock func() time.Time) Option {
	return func(o *centerOptions) {
		o.clock = clock
	}
}

// WithBufferSize 設置事件通道的初始緩衝大小
func WithBufferSize(size int) Option {
	return func(o *centerOptions) {
		o.bufferSize = size
	}
}

type entry struct {
	notification Notification
	timer        *time.Timer
}

// Center 管理同時顯示中的通知，每則通知都有自己的自動關閉計時器。
// 關閉 Center 會停止所有計時器，之後的 Push 會返回 ErrCenterClosed，
// Dismiss 則不做任何事。
type Center struct {
	mu      sync.Mutex
	entries map[string]*entry
	events  *chanx.UnboundedChan[Event]
	cancel  context.CancelFunc
	closed  bool
	logger  *slog.Logger
	options centerOptions
}

func NewCenter(opts ...Option) *Center {
	options := centerOptions{
		logger:     slog.Default(),
		defaultTTL: DefaultTTL,
		clock:      time.Now,
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Center{
		entries: make(map[string]*entry),
		events:  chanx.NewUnboundedChan[Event](ctx, options.bufferSize),
		cancel:  cancel,
		logger:  options.logger.With(slog.String("caller", "NotificationCenter")),
		options: options,
	}
}

// Push 新增一則通知，ttl 小於等於 0 時使用預設時間
func (c *Center) Push(kind Kind, itemID string, text Text, ttl time.Duration) (Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Notification{}, ErrCenterClosed
	}
	if ttl <= 0 {
		ttl = c.options.defaultTTL
	}

	now := c.options.clock()
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		ItemID:    itemID,
		Message:   Render(text),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	id := n.ID
	c.entries[id] = &entry{
		notification: n,
		timer: time.AfterFunc(ttl, func() {
			c.remove(id, ReasonExpired)
		}),
	}
	c.events.In <- Event{Type: EventShow, Notification: n}
	c.logger.Debug("notification shown",
		slog.String("id", id),
		slog.String("kind", string(kind)),
		slog.String("itemId", itemID))
	return n, nil
}

// Dismiss 提前關閉通知，重複關閉或通知不存在時返回 false
func (c *Center) Dismiss(id string) bool {
	return c.remove(id, ReasonDismissed)
}

func (c *Center) remove(id string, reason DismissReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(c.entries, id)
	c.events.In <- Event{Type: EventDismiss, Reason: reason, Notification: e.notification}
	c.logger.Debug("notification removed", slog.String("id", id), slog.String("reason", string(reason)))
	return true
}

// Active 依建立時間排序返回所有顯示中的通知
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	notifications := lo.MapToSlice(c.entries, func(_ string, e *entry) Notification {
		return e.notification
	})
	sort.Slice(notifications, func(i, j int) bool {
		if notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].ID < notifications[j].ID
		}
		return notifications[i].CreatedAt.Before(notifications[j].CreatedAt)
	})
	return notifications
}

// Events 返回通知事件的唯讀通道，Close 之後會被關閉
// Close 之前尚未讀取的事件只保證保留已進入通道緩衝的部分，其餘會被丟棄。
func (c *Center) Events() <-chan Event {
	return c.events.Out
}

// Close 停止所有計時器並釋放資源
// 不會等待 Events 的讀取者，沒有人讀取時也不會留下 goroutine。
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.entries {
		e.timer.Stop()
	}
	clear(c.entries)
	c.cancel()
}
