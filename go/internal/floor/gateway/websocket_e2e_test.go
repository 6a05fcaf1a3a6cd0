package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readAction reads frames until one with the given action arrives.
func readAction(t *testing.T, ws *websocket.Conn, action string) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		if f.action() == action {
			return f
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	svc := NewService(DefaultConfig(), Dependencies{})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	kitchen := dialRelay(t, srv)
	front := dialRelay(t, srv)

	require.NoError(t, kitchen.WriteJSON(map[string]any{"action": "joinRoom", "companyName": "Pizzeria Roma"}))
	readAction(t, kitchen, "authenticated")
	require.NoError(t, kitchen.WriteJSON(map[string]any{"action": "joinPage", "pageType": "cucina"}))
	joined := readAction(t, kitchen, "authenticated")
	assert.Equal(t, "cucina", joined["pageType"])

	require.NoError(t, front.WriteJSON(map[string]any{"action": "joinRoom", "companyName": "Pizzeria Roma"}))
	readAction(t, front, "authenticated")

	require.NoError(t, front.WriteJSON(map[string]any{
		"action":        "startCountdown",
		"tableNumber":   5,
		"timeRemaining": 300,
		"destination":   "cucina",
	}))

	got := readAction(t, kitchen, "startCountdown")
	assert.Equal(t, "5", got["tableNumber"])
	assert.Equal(t, float64(300), got["timeRemaining"])
	assert.Equal(t, "cucina", got["destination"])

	require.NoError(t, kitchen.WriteJSON(map[string]any{"action": "ping"}))
	readAction(t, kitchen, "pong")

	// a malformed frame is answered without closing the socket
	require.NoError(t, kitchen.WriteMessage(websocket.TextMessage, []byte(`{nope`)))
	errFrame := readAction(t, kitchen, "error")
	assert.Equal(t, "INVALID_JSON", errFrame["code"])

	require.NoError(t, front.Close())
	assert.Eventually(t, func() bool {
		return svc.Manager().GetConnectionStats().TotalConnections == 1
	}, 3*time.Second, 20*time.Millisecond)
}
