package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcsync "github.com/xelth-com/pcsyncgo/internal/sync"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestPublishBroadcastsToConnectedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := dial(t, hub)
	b := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish(pcsync.Event{Type: pcsync.EventJobStatus, ObjectType: "contact", JobID: 7, Status: "done", At: time.Now()})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readJSON(t, conn)
		assert.Equal(t, pcsync.EventJobStatus, msg["type"])
		assert.Equal(t, "contact", msg["objectType"])
		assert.Equal(t, float64(7), msg["jobId"])
		assert.Equal(t, "done", msg["status"])
	}
}

func TestIdentifyAndPing(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "CLIENT_IDENTIFY", "label": "admin", "msgId": "m1"}))
	ack := readJSON(t, conn)
	assert.Equal(t, "ACK", ack["type"])
	assert.Equal(t, "m1", ack["msgId"])
	assert.True(t, strings.HasPrefix(ack["clientId"].(string), "web_"))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "PING", "msgId": "m2"}))
	pong := readJSON(t, conn)
	assert.Equal(t, "PONG", pong["type"])
	assert.Equal(t, "m2", pong["msgId"])

	assert.True(t, hub.SendToClient(ack["clientId"].(string), map[string]string{"type": "HELLO"}))
	assert.Equal(t, "HELLO", readJSON(t, conn)["type"])
	assert.False(t, hub.SendToClient("missing", map[string]string{"type": "HELLO"}))
}

func TestDisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}
