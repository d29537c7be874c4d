package wsocket_test

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

	"github.com/duo-workflow-bridge/bridge/pkg/wsocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func TestConnectSendAndReceiveFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Contains(t, string(data), "hello")

		require.NoError(t, conn.WriteJSON(map[string]any{"newCheckpoint": map[string]any{"status": "RUNNING"}}))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := wsocket.New(url, wsocket.WithHeartbeatInterval(time.Hour), wsocket.WithKeepaliveInterval(time.Hour))

	err := client.Connect(context.Background())
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.Send(map[string]any{"startRequest": map[string]any{"goal": "hello"}}))

	select {
	case f := <-client.Frames():
		require.NoError(t, f.Err)
		cp, ok := f.Data["newCheckpoint"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "RUNNING", cp["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive frame")
	}
}

func TestSendFalseWhenNotConnected(t *testing.T) {
	client := wsocket.New("ws://unused")
	assert.False(t, client.Send(map[string]any{"heartbeat": map[string]any{"timestamp": 1}}))
}

func TestCloseIsIdempotent(t *testing.T) {
	client := wsocket.New("ws://unused")
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}

func TestServerCloseEmitsCloseInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := wsocket.New(url, wsocket.WithHeartbeatInterval(time.Hour), wsocket.WithKeepaliveInterval(time.Hour))
	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-client.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe close")
	}
}
