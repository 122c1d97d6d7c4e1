package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"paper_test_backend/pkg/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 客户端上行消息，目前只有 sync：请求一次完整快照
type clientMessage struct {
	Type string `json:"type"`
}

type subscriber struct {
	hub       *Hub
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	limiter   *rate.Limiter
	snapshot  func() Event
}

func (c *subscriber) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log().Warn("session websocket closed unexpectedly", zap.String("sessionId", c.sessionID), zap.Error(err))
			}
			break
		}
		if !c.limiter.Allow() {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "sync" && c.snapshot != nil {
			c.hub.sendTo(c, c.snapshot())
		}
	}
}

func (c *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每个事件单独一帧，客户端按帧解析 JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub 按会话分组的 WebSocket 订阅者，推送倒计时与状态事件
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *Hub) register(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[c.sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[c.sessionID] = set
	}
	set[c] = struct{}{}
	monitoring.SessionSubscribers.Inc()
}

func (h *Hub) unregister(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *subscriber) {
	set, ok := h.subs[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	monitoring.SessionSubscribers.Dec()
	if len(set) == 0 {
		delete(h.subs, c.sessionID)
	}
}

// Publish 推送事件；订阅者缓冲已满时丢弃，下一次 tick 会带上最新剩余时间
func (h *Hub) Publish(sessionID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log().Error("failed to encode session event", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[sessionID] {
		select {
		case c.send <- payload:
		default:
		}
	}
	monitoring.SessionEvents.WithLabelValues(ev.Type).Inc()
}

func (h *Hub) sendTo(c *subscriber, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[c.sessionID][c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// CloseSession 断开某会话的全部订阅者
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[sessionID] {
		h.removeLocked(c)
	}
}

// Subscribers 当前订阅某会话的连接数
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Stop 关闭全部连接
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for _, set := range h.subs {
		for c := range set {
			h.removeLocked(c)
			closed++
		}
	}
	log().Info("session hub stopped", zap.Int("closedConnections", closed))
}

// ServeWS 升级连接并订阅会话事件，连接建立后立即推送一次快照
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, snapshot func() Event) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log().Error("websocket upgrade failed", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	c := &subscriber{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
		snapshot:  snapshot,
	}
	// 快照先于任何广播事件入队
	if snapshot != nil {
		if payload, err := json.Marshal(snapshot()); err == nil {
			c.send <- payload
		}
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}
