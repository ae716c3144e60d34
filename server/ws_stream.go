package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"AtmoMix/core/events"
	"AtmoMix/core/padstate"
	"AtmoMix/logger"
	"AtmoMix/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	sendBuffer  = 256
	maxReadSize = 4096
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// transitionKinds 上下文订阅者也需要的过渡与持久化通知
var transitionKinds = []events.Kind{
	events.KindStart,
	events.KindProgress,
	events.KindAlmostComplete,
	events.KindComplete,
	events.KindError,
	events.KindPersisted,
	events.KindPersistFailed,
}

// snapshotMessage 连接建立后的第一条消息
type snapshotMessage struct {
	Type      string                   `json:"type"`
	Pads      map[int64]model.PadState `json:"pads"`
	Stats     padstate.Stats           `json:"stats"`
	Timestamp int64                    `json:"timestamp"`
}

// EventStream 把通知中心的事件推送给 websocket 客户端
type EventStream struct {
	hub   *events.Hub
	store *padstate.Store

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewEventStream 创建事件推送
func NewEventStream(hub *events.Hub, store *padstate.Store) *EventStream {
	return &EventStream{hub: hub, store: store, clients: make(map[*streamClient]struct{})}
}

// ServeHTTP 升级连接并开始推送
// GET /ws/events?context=mixer 只接收该上下文的图层事件以及过渡通知
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	c := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	var unsubscribes []func()
	if name := r.URL.Query().Get("context"); name != "" {
		unsubscribes = append(unsubscribes,
			s.hub.SubscribeContext(name, c.enqueue),
			s.hub.Subscribe(c.enqueue, transitionKinds...))
	} else {
		unsubscribes = append(unsubscribes, s.hub.Subscribe(c.enqueue))
	}

	if s.store != nil {
		c.write(snapshotMessage{
			Type:      "snapshot",
			Pads:      s.store.Snapshot(),
			Stats:     s.store.Stats(),
			Timestamp: time.Now().UnixMilli(),
		})
	}

	logger.Debug("事件流客户端已连接", logger.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()

	logger.Debug("事件流客户端已断开", logger.String("remote", r.RemoteAddr))
}

// ClientCount 当前连接数
func (s *EventStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// CloseAll 关闭全部连接，服务退出时调用
func (s *EventStream) CloseAll() {
	s.mu.Lock()
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// enqueue 在发布者的 goroutine 中调用，不能阻塞；缓冲区满时丢弃
func (c *streamClient) enqueue(ev events.Event) {
	c.write(ev)
}

func (c *streamClient) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("序列化事件失败", logger.ErrorField(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 只处理控制帧和关闭，客户端不需要发送业务消息
func (c *streamClient) readPump() {
	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}
	}
}

// writePump 写入消息循环，队列中积压的消息合并为一帧，以换行分隔
func (c *streamClient) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
