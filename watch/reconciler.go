package watch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"bidwatch/auction"
	"bidwatch/metrics"
	"bidwatch/notify"
)

const (
	// DefaultOutbidTTL 是被超價通知的顯示時間
	DefaultOutbidTTL = 5 * time.Second
	// DefaultBidPlacedTTL 是其他人出價通知的顯示時間，頻率高且優先度低，所以比較短
	DefaultBidPlacedTTL = 2 * time.Second
)

// Notifier 是 Reconciler 發送通知的對象
type Notifier interface {
	Push(kind notify.Kind, itemID string, text notify.Text, ttl time.Duration) (notify.Notification, error)
}

// Update 是處理過一次商品快照後的結果
type Update struct {
	Item         auction.ProductItem  `json:"item"`
	Display      auction.Display      `json:"display"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

type reconcilerOptions struct {
	logger       *slog.Logger
	clock        func() time.Time
	outbidTTL    time.Duration
	bidPlacedTTL time.Duration
	metrics      *metrics.Metrics
}

type ReconcilerOption func(*reconcilerOptions)

// WithReconcilerLogger 設置日誌記錄器
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(o *reconcilerOptions) {
		o.logger = logger
	}
}

// WithReconcilerClock 設置計算出價狀態時使用的時間來源
func WithReconcilerClock(clock func() time.Time) ReconcilerOption {
	return func(o *reconcilerOptions) {
		o.clock = clock
	}
}

// WithOutbidTTL 設置被超價通知的顯示時間
func WithOutbidTTL(d time.Duration) ReconcilerOption {
	return func(o *reconcilerOptions) {
		o.outbidTTL = d
	}
}

// WithBidPlacedTTL 設置其他人出價通知的顯示時間
func WithBidPlacedTTL(d time.Duration) ReconcilerOption {
	return func(o *reconcilerOptions) {
		o.bidPlacedTTL = d
	}
}

// WithReconcilerMetrics 設置統計指標
func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(o *reconcilerOptions) {
		o.metrics = m
	}
}

// Reconciler 保存某個觀看者正在追蹤的商品快照，
// 並在收到新的快照時重新計算出價狀態、決定是否需要發送通知。
type Reconciler struct {
	mu         sync.Mutex
	viewer     *auction.User
	items      map[string]auction.ProductItem
	viewerBids map[string]auction.Bid
	notifier   Notifier
	sanitizer  *bluemonday.Policy
	closed     bool
	logger     *slog.Logger
	options    reconcilerOptions
}

// NewReconciler 建立 Reconciler，viewer 為 nil 代表未登入的觀看者
func NewReconciler(viewer *auction.User, notifier Notifier, opts ...ReconcilerOption) *Reconciler {
	options := reconcilerOptions{
		logger:       slog.Default(),
		clock:        time.Now,
		outbidTTL:    DefaultOutbidTTL,
		bidPlacedTTL: DefaultBidPlacedTTL,
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger.With(slog.String("caller", "Reconciler"))
	if viewer != nil {
		logger = logger.With(slog.String("viewer", viewer.ID))
	}
	return &Reconciler{
		viewer:     viewer,
		items:      make(map[string]auction.ProductItem),
		viewerBids: make(map[string]auction.Bid),
		notifier:   notifier,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger,
		options:    options,
	}
}

func (r *Reconciler) viewerID() string {
	if r.viewer == nil {
		return ""
	}
	return r.viewer.ID
}

// Track 開始追蹤商品，並返回目前的顯示資料
func (r *Reconciler) Track(item auction.ProductItem) Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.items[item.ID] = item
		r.rememberViewerBid(item)
	}
	return r.describe(item)
}

// TrackBid 記錄觀看者自己在某個商品上的出價，用於在被超價後仍能判斷狀態
func (r *Reconciler) TrackBid(bid auction.Bid) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || bid.ItemID == "" || bid.UserID != r.viewerID() {
		return
	}
	if current, ok := r.viewerBids[bid.ItemID]; ok && current.CreatedAt.After(bid.CreatedAt) {
		return
	}
	r.viewerBids[bid.ItemID] = bid
}

// Untrack 停止追蹤商品，之後收到的快照都會被忽略
func (r *Reconciler) Untrack(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, itemID)
	delete(r.viewerBids, itemID)
}

// Tracked 判斷商品是否正在被追蹤
func (r *Reconciler) Tracked(itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[itemID]
	return ok
}

// Handle 處理推送過來的商品快照
// 返回 false 表示快照被忽略 (商品沒有被追蹤、快照過期或 Reconciler 已關閉)。
// 重複收到相同的快照不會產生通知，判斷依據是最高出價的 ID。
func (r *Reconciler) Handle(item auction.ProductItem) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Update{}, false
	}
	prev, ok := r.items[item.ID]
	if !ok {
		r.options.metrics.UpdateIgnored()
		return Update{}, false
	}
	if item.UpdatedAt != nil && prev.UpdatedAt != nil && item.UpdatedAt.Before(*prev.UpdatedAt) {
		r.logger.Debug("drop stale snapshot",
			slog.String("itemId", item.ID),
			slog.Time("tracked", *prev.UpdatedAt),
			slog.Time("received", *item.UpdatedAt))
		r.options.metrics.UpdateStale()
		return Update{}, false
	}

	r.items[item.ID] = item
	r.rememberViewerBid(item)
	r.options.metrics.UpdateHandled()
	update := r.describe(item)

	if prev.WinningBidID() == item.WinningBidID() {
		return update, true
	}

	viewerID := r.viewerID()
	switch {
	case prev.IsWinner(viewerID) && !item.IsWinner(viewerID):
		update.Notification = r.push(notify.KindOutbid, item, notify.Static(fmt.Sprintf("You have been outbid on %s", r.title(item))), r.options.outbidTTL)
	case item.Bid != nil && !item.IsWinner(viewerID):
		amount, title := item.Bid.Amount, r.title(item)
		update.Notification = r.push(notify.KindBidPlaced, item, notify.Dynamic(func() string {
			return fmt.Sprintf("A bid of %d was placed on %s", amount, title)
		}), r.options.bidPlacedTTL)
	}
	return update, true
}

// Close 停止處理快照並清除所有追蹤資料
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	clear(r.items)
	clear(r.viewerBids)
}

func (r *Reconciler) describe(item auction.ProductItem) Update {
	var userBid *auction.Bid
	if bid, ok := r.viewerBids[item.ID]; ok {
		userBid = &bid
	}
	return Update{
		Item:    item,
		Display: auction.Describe(r.viewer, item, userBid, r.options.clock()),
	}
}

func (r *Reconciler) rememberViewerBid(item auction.ProductItem) {
	if item.IsWinner(r.viewerID()) {
		bid := *item.Bid
		bid.ItemID = item.ID
		r.viewerBids[item.ID] = bid
	}
}

func (r *Reconciler) title(item auction.ProductItem) string {
	title := r.sanitizer.Sanitize(item.Title)
	if title == "" {
		return "item " + item.ID
	}
	return title
}

func (r *Reconciler) push(kind notify.Kind, item auction.ProductItem, text notify.Text, ttl time.Duration) *notify.Notification {
	if r.notifier == nil {
		return nil
	}
	n, err := r.notifier.Push(kind, item.ID, text, ttl)
	if err != nil {
		r.logger.Warn("fail to push notification",
			slog.String("itemId", item.ID),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return nil
	}
	r.options.metrics.NotificationPushed(string(kind))
	return &n
}
