package dashboard

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, cfg HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", hub.HandleUpgrade)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub, srv := newTestHub(t, HubConfig{})
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast("BTCUSDT", map[string]any{"close": 42000.5})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload struct {
		Type   string         `json:"type"`
		Symbol string         `json:"symbol"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, "snapshot", payload.Type)
	assert.Equal(t, "BTCUSDT", payload.Symbol)
	assert.EqualValues(t, 42000.5, payload.Data["close"])
}

func TestHub_SubscribeFiltersSymbols(t *testing.T) {
	hub, srv := newTestHub(t, HubConfig{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"op":      "subscribe",
		"symbols": []string{"ethusdt"},
	}))
	// 等订阅被 readLoop 处理
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast("BTCUSDT", map[string]any{"close": 1.0})
	hub.Broadcast("ETHUSDT", map[string]any{"close": 2.0})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "ETHUSDT")
	assert.NotContains(t, string(msg), "BTCUSDT")
}

func TestHub_PingOp(t *testing.T) {
	hub, srv := newTestHub(t, HubConfig{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"op": "ping"}))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestHub_ShutdownWhileClientPings(t *testing.T) {
	hub, srv := newTestHub(t, HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// 停机期间客户端持续发 ping，pong 回复不能撞上已关闭的 send 通道
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				if err := conn.WriteJSON(map[string]any{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("取消后 Run 未退出")
	}
	close(stop)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_DropOnDisconnect(t *testing.T) {
	hub, srv := newTestHub(t, HubConfig{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
