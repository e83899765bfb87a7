package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"quantdesk/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 32
)

// SnapshotFunc 生成某个 symbol 的推送内容，由宿主注入。
type SnapshotFunc func(ctx context.Context, symbol string) (any, error)

// HubConfig 配置推送行为。
type HubConfig struct {
	Interval time.Duration
	Symbols  []string
	Snapshot SnapshotFunc
}

// Hub 管理 websocket 客户端并周期推送行情快照。
// 客户端可通过 {"op":"subscribe","symbols":[...]} 订阅子集，默认收到全部。
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run 周期生成快照并广播，阻塞直到 ctx 取消。
func (h *Hub) Run(ctx context.Context) error {
	if h.cfg.Snapshot == nil || len(h.cfg.Symbols) == 0 {
		<-ctx.Done()
		h.closeAll()
		return nil
	}
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			for _, symbol := range h.cfg.Symbols {
				data, err := h.cfg.Snapshot(ctx, symbol)
				if err != nil {
					logger.Debugf("[dashboard] %s 快照失败: %v", symbol, err)
					continue
				}
				h.Broadcast(symbol, data)
			}
		}
	}
}

// Broadcast 将消息推给订阅了该 symbol 的客户端。
func (h *Hub) Broadcast(symbol string, data any) {
	payload, err := json.Marshal(map[string]any{
		"type":   "snapshot",
		"symbol": symbol,
		"data":   data,
		"ts":     time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if !cl.wants(symbol) {
			continue
		}
		select {
		case cl.send <- payload:
		default:
			// 写缓冲满的慢客户端直接丢消息，不阻塞广播
		}
	}
}

// ClientCount 返回当前连接数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleUpgrade 是 gin 路由入口，将连接升级为 websocket。
func (h *Hub) HandleUpgrade(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[dashboard] websocket 升级失败: %v", err)
		return
	}
	cl := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(cl)
	go h.readLoop(cl)
}

func (h *Hub) readLoop(cl *client) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		op := gjson.GetBytes(msg, "op").String()
		switch op {
		case "subscribe":
			cl.updateSubs(gjson.GetBytes(msg, "symbols"), true)
		case "unsubscribe":
			cl.updateSubs(gjson.GetBytes(msg, "symbols"), false)
		case "ping":
			select {
			case cl.send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	_ = cl.conn.Close()
}

// closeAll 只关底层连接，send 通道统一由 drop 关闭。
// readLoop 读到连接错误后会自行退出并触发 drop。
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		_ = cl.conn.Close()
	}
}

func (cl *client) wants(symbol string) bool {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if len(cl.subs) == 0 {
		return true
	}
	_, ok := cl.subs[strings.ToUpper(symbol)]
	return ok
}

func (cl *client) updateSubs(symbols gjson.Result, add bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, sym := range symbols.Array() {
		key := strings.ToUpper(strings.TrimSpace(sym.String()))
		if key == "" {
			continue
		}
		if add {
			cl.subs[key] = struct{}{}
		} else {
			delete(cl.subs, key)
		}
	}
}
