package ingress

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/trackq/internal/tracing"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, server *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, ts
}

func TestWebSocketPush(t *testing.T) {
	server, pusher := createTestServer(t, nil)
	conn, _ := dialTestServer(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[["trackPageView:main","Home"]]`)))

	var resp PushResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, resp.Accepted)

	pushes := pusher.snapshot()
	require.Len(t, pushes, 1)
	assert.Equal(t, []commandqueue.Call{{"trackPageView:main", "Home"}}, pushes[0].calls)
	assert.Equal(t, "ws", tracing.GetSource(pushes[0].ctx))
	assert.NotEmpty(t, tracing.GetRequestID(pushes[0].ctx), "connection id is attached")
}

func TestWebSocketInvalidFrame(t *testing.T) {
	server, pusher := createTestServer(t, nil)
	conn, _ := dialTestServer(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"not":"an array"}`)))
	var errResp ErrorResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.NotEmpty(t, errResp.Error)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`[["trackPageView"]]`)))
	errResp = ErrorResponse{}
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Equal(t, "text frames only", errResp.Error)

	// the connection survives bad frames
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[["trackPageView"]]`)))
	var resp PushResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, resp.Accepted)

	assert.Len(t, pusher.snapshot(), 1)
}

func TestWebSocketRateLimit(t *testing.T) {
	server, pusher := createTestServer(t, func(o *ServerOptions) { o.RateLimit = 1 })
	conn, _ := dialTestServer(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[["a"]]`)))
	var resp PushResponse
	require.NoError(t, conn.ReadJSON(&resp))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[["b"]]`)))
	var errResp ErrorResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Equal(t, "too many requests", errResp.Error)

	assert.Len(t, pusher.snapshot(), 1)
}

func TestWebSocketClosedOnStop(t *testing.T) {
	server, _ := createTestServer(t, nil)
	conn, _ := dialTestServer(t, server)

	require.Eventually(t, func() bool {
		return server.connectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())
	assert.Equal(t, 0, server.connectionCount())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWebSocketDisabled(t *testing.T) {
	server, _ := createTestServer(t, func(o *ServerOptions) { o.WebSocket = false })

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
}
