package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bidwatch/auction"
	"bidwatch/models"
	"bidwatch/watch"
)

// FrameConnected 是連線建立後送出的第一個事件，帶有 dismiss 通知時需要的 watchId
const FrameConnected = "connected"

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type connectedFrame struct {
	WatchID string `json:"watchId"`
	ItemID  string `json:"itemId"`
}

type watchEntry struct {
	session *watch.Session
	owner   string
}

// watchRegistry 記錄本節點上正在進行的觀看連線
type watchRegistry struct {
	mu      sync.Mutex
	entries map[string]watchEntry
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{entries: make(map[string]watchEntry)}
}

func (r *watchRegistry) add(s *watch.Session, owner string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.entries[id] = watchEntry{session: s, owner: owner}
	return id
}

func (r *watchRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// get 只返回屬於 owner 的連線
func (r *watchRegistry) get(id, owner string) (*watch.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.owner != owner {
		return nil, false
	}
	return e.session, true
}

// openWatch 讀取商品與觀看者的出價並建立 watch.Session
func (impl *ServerImpl) openWatch(c *gin.Context, op string) (*watch.Session, string, bool) {
	s, viewer, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return nil, "", false
	}
	item, err := impl.repo.FindItem(c, c.Param("itemID"))
	if err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			abort(c, http.StatusNotFound, "item not found")
			return nil, "", false
		}
		impl.internalError(c, op, fmt.Errorf("[%s] Fail to find item, err=%w", op, err))
		return nil, "", false
	}

	var bids []auction.Bid
	if viewer != nil {
		if bids, err = impl.repo.ListItemBids(c, item.ID, viewer.ID); err != nil {
			impl.internalError(c, op, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
			return nil, "", false
		}
	}
	return watch.NewSession(impl.bus, viewer, item, bids, impl.watchOptions()...), s.ID(), true
}

// Track item updates and notifications
// (GET /items/{itemID}/events)
func (impl *ServerImpl) GetItemEvents(c *gin.Context) {
	const op = "GetItemEvents"

	ws, owner, ok := impl.openWatch(c, op)
	if !ok {
		return
	}
	defer ws.Close()
	watchID := impl.watchers.add(ws, owner)
	defer impl.watchers.remove(watchID)

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	c.SSEvent(FrameConnected, connectedFrame{WatchID: watchID, ItemID: c.Param("itemID")})
	w.Flush()

	err := ws.Run(ctx, func(frame watch.Frame) error {
		if frame.Event == watch.FramePing {
			// 沒有事件時送出註解行，確保瀏覽器和Cloudflare不會斷開連線
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
		} else {
			c.SSEvent(frame.Event, frame.Data)
		}
		w.Flush()
		return ctx.Err()
	})
	if err != nil {
		impl.logger.Warn("Event stream stopped", slog.String("op", op), slog.Any("error", err))
	}
}

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsClientMessage 是觀看者從 websocket 送上來的訊息
type wsClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Track item updates and notifications over websocket
// (GET /items/{itemID}/ws)
func (impl *ServerImpl) GetItemWebSocket(c *gin.Context) {
	const op = "GetItemWebSocket"

	ws, owner, ok := impl.openWatch(c, op)
	if !ok {
		return
	}
	defer ws.Close()

	// Upgrade 不會帶上已經寫在 gin 回應中的 header，session cookie 需要另外傳入
	header := http.Header{}
	for _, cookie := range c.Writer.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", cookie)
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		impl.logger.Info("Fail to upgrade connection", slog.String("op", op), slog.Any("error", err))
		return
	}
	defer conn.Close()

	watchID := impl.watchers.add(ws, owner)
	defer impl.watchers.remove(watchID)

	heartbeat := impl.config.Heartbeat
	if heartbeat <= 0 {
		heartbeat = watch.DefaultHeartbeat
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 讀取迴圈只處理 dismiss，連線中斷時取消 ctx 讓 Run 結束
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		conn.SetReadLimit(wsMaxFrameSize)
		conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		})
		for {
			var msg wsClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == watch.FrameDismiss {
				ws.Dismiss(msg.ID)
			}
		}
	}()

	write := func(frame wsFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(frame)
	}
	err = write(wsFrame{Event: FrameConnected, Data: connectedFrame{WatchID: watchID, ItemID: c.Param("itemID")}})
	if err == nil {
		err = ws.Run(ctx, func(frame watch.Frame) error {
			if frame.Event == watch.FramePing {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
			return write(wsFrame{Event: frame.Event, Data: frame.Data})
		})
	}
	if err != nil {
		impl.logger.Debug("Websocket stopped", slog.String("op", op), slog.Any("error", err))
	}

	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	cancel()
	conn.Close()
	wg.Wait()
}

// Dismiss a notification shown on a watch connection
// (POST /watches/{watchID}/notifications/{notificationID}/dismiss)
func (impl *ServerImpl) PostDismissNotification(c *gin.Context) {
	const op = "PostDismissNotification"

	s, _, err := impl.currentViewer(c)
	if err != nil {
		impl.internalError(c, op, err)
		return
	}
	ws, ok := impl.watchers.get(c.Param("watchID"), s.ID())
	if !ok {
		abort(c, http.StatusNotFound, "watch not found")
		return
	}
	if !ws.Dismiss(c.Param("notificationID")) {
		abort(c, http.StatusNotFound, "notification not found")
		return
	}
	c.Status(http.StatusNoContent)
}
