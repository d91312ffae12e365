package api

import (
	stdjson "encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeboard/server/hub"
	"homeboard/server/integration"
)

func dialWebSocket(t *testing.T, env *testEnv) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(env.server.Router())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) hub.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg hub.Message
	require.NoError(t, stdjson.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_BootstrapOnConnect(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.store.Put(integration.Snapshot{
		Integration: "clock",
		Seq:         2,
		Rendered:    "<div>12:00</div>",
	}))
	require.True(t, env.store.Put(integration.Snapshot{
		Integration: "weather",
		Seq:         9,
		Rendered:    "<div>21.5</div>",
	}))

	conn, cleanup := dialWebSocket(t, env)
	defer cleanup()

	first := readMessage(t, conn)
	assert.Equal(t, hub.MessageWidgetUpdate, first.Type)
	assert.Equal(t, "clock", first.Integration)
	assert.Equal(t, uint64(2), first.Seq)

	second := readMessage(t, conn)
	assert.Equal(t, "weather", second.Integration)
	assert.Equal(t, "<div>21.5</div>", second.HTML)
}

func TestWebSocket_ReceivesPublishedSnapshots(t *testing.T) {
	env := newTestEnv(t)

	conn, cleanup := dialWebSocket(t, env)
	defer cleanup()

	// The session joins asynchronously with the upgrade; wait for it.
	require.Eventually(t, func() bool { return env.hub.Count() == 1 },
		2*time.Second, 10*time.Millisecond)

	env.hub.Publish(integration.Snapshot{
		Integration: "weather",
		Seq:         1,
		Rendered:    "<div>sunny</div>",
		Err:         "",
	})

	msg := readMessage(t, conn)
	assert.Equal(t, hub.MessageWidgetUpdate, msg.Type)
	assert.Equal(t, "weather", msg.Integration)
	assert.Equal(t, "<div>sunny</div>", msg.HTML)
	assert.Empty(t, msg.Error)
}

func TestWebSocket_PingKeepalive(t *testing.T) {
	env := newTestEnv(t)

	conn, cleanup := dialWebSocket(t, env)
	defer cleanup()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestWebSocket_DisconnectLeavesHub(t *testing.T) {
	env := newTestEnv(t)

	conn, cleanup := dialWebSocket(t, env)
	defer cleanup()

	require.Eventually(t, func() bool { return env.hub.Count() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return env.hub.Count() == 0 },
		2*time.Second, 10*time.Millisecond)
}
