package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bidwatch/auction"
	"bidwatch/metrics"
	"bidwatch/notify"
)

// 推送給觀看者的事件名稱
const (
	FrameUpdate       = "update"
	FrameNotification = "notification"
	FrameDismiss      = "dismiss"
	FramePing         = "ping"
)

// DefaultHeartbeat 沒有事件時多久送一次 ping，避免瀏覽器或代理伺服器斷開連線
const DefaultHeartbeat = 30 * time.Second

// Frame 是一個推送給觀看者的事件
type Frame struct {
	Event string
	Data  any
}

// Bus 是商品快照的發布/訂閱通道，頻道名稱為商品 ID
type Bus interface {
	Subscribe(channelName string) (<-chan auction.ProductItem, error)
	Unsubscribe(channelName string, ch <-chan auction.ProductItem)
}

type sessionOptions struct {
	logger           *slog.Logger
	heartbeat        time.Duration
	metrics          *metrics.Metrics
	reconcilerOpts   []ReconcilerOption
	notificationOpts []notify.Option
}

type SessionOption func(*sessionOptions)

// WithSessionLogger 設置日誌記錄器
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithHeartbeat 設置 ping 的間隔
func WithHeartbeat(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.heartbeat = d
	}
}

// WithSessionMetrics 設置統計指標
func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithReconcilerOptions 設置內部 Reconciler 的選項
func WithReconcilerOptions(opts ...ReconcilerOption) SessionOption {
	return func(o *sessionOptions) {
		o.reconcilerOpts = append(o.reconcilerOpts, opts...)
	}
}

// WithNotificationOptions 設置內部通知中心的選項
func WithNotificationOptions(opts ...notify.Option) SessionOption {
	return func(o *sessionOptions) {
		o.notificationOpts = append(o.notificationOpts, opts...)
	}
}

// Session 代表一個正在觀看某個商品的連線
// 它訂閱商品的更新頻道，透過 Reconciler 計算狀態，並把結果與通知轉成 Frame 輸出。
// 連線結束時會取消訂閱並清除所有通知計時器。
type Session struct {
	bus        Bus
	item       auction.ProductItem
	reconciler *Reconciler
	center     *notify.Center
	logger     *slog.Logger
	options    sessionOptions
}

// NewSession 建立觀看 item 的 Session，bids 為觀看者過去在此商品上的出價
func NewSession(bus Bus, viewer *auction.User, item auction.ProductItem, bids []auction.Bid, opts ...SessionOption) *Session {
	options := sessionOptions{
		logger:    slog.Default(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(&options)
	}

	center := notify.NewCenter(append([]notify.Option{notify.WithLogger(options.logger)}, options.notificationOpts...)...)
	reconciler := NewReconciler(viewer, center, append([]ReconcilerOption{
		WithReconcilerLogger(options.logger),
		WithReconcilerMetrics(options.metrics),
	}, options.reconcilerOpts...)...)
	for _, bid := range bids {
		reconciler.TrackBid(bid)
	}

	return &Session{
		bus:        bus,
		item:       item,
		reconciler: reconciler,
		center:     center,
		logger:     options.logger.With(slog.String("caller", "WatchSession"), slog.String("itemId", item.ID)),
		options:    options,
	}
}

// Dismiss 讓觀看者提前關閉通知
func (s *Session) Dismiss(id string) bool {
	return s.center.Dismiss(id)
}

// Run 持續輸出 Frame 直到 ctx 被取消、更新頻道關閉或 emit 返回錯誤
// 第一個 Frame 一定是目前的商品狀態。
func (s *Session) Run(ctx context.Context, emit func(Frame) error) error {
	const op = "Session.Run"

	updates, err := s.bus.Subscribe(s.item.ID)
	if err != nil {
		s.close(nil)
		return fmt.Errorf("[%s] Fail to subscribe to item updates, err=%w", op, err)
	}
	defer s.close(updates)

	s.options.metrics.SessionOpened()
	defer s.options.metrics.SessionClosed()

	if err := emit(Frame{Event: FrameUpdate, Data: s.reconciler.Track(s.item)}); err != nil {
		return fmt.Errorf("[%s] Fail to emit initial state, err=%w", op, err)
	}

	heartbeat := time.NewTicker(s.options.heartbeat)
	defer heartbeat.Stop()
	events := s.center.Events()

	for {
		var frame Frame
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-updates:
			if !ok {
				s.logger.Info("update channel closed")
				return nil
			}
			update, handled := s.reconciler.Handle(item)
			if !handled {
				continue
			}
			frame = Frame{Event: FrameUpdate, Data: update}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case notify.EventShow:
				frame = Frame{Event: FrameNotification, Data: ev.Notification}
			case notify.EventDismiss:
				frame = Frame{Event: FrameDismiss, Data: ev}
			default:
				continue
			}
		case <-heartbeat.C:
			frame = Frame{Event: FramePing}
		}

		if err := emit(frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("[%s] Fail to emit %s frame, err=%w", op, frame.Event, err)
		}
	}
}

// Close 釋放沒有執行 Run 的 Session，Run 結束時會自動呼叫
func (s *Session) Close() {
	s.close(nil)
}

func (s *Session) close(updates <-chan auction.ProductItem) {
	if updates != nil {
		s.bus.Unsubscribe(s.item.ID, updates)
	}
	s.reconciler.Close()
	s.center.Close()
	s.logger.Debug("watch session closed")
}
