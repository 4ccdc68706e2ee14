package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connPair returns the server and client side of one websocket connection.
func connPair(t *testing.T) (*ws.Conn, *ws.Conn) {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverSide := make(chan *ws.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	client := dial(t, wsURL(server, "/"))
	select {
	case conn := <-serverSide:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(readTimeout):
		t.Fatal("server side of connection never arrived")
		return nil, nil
	}
}

func sendEvent(t *testing.T, conn *ws.Conn, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// readEvent reads frames until one with the given event arrives.
func readEvent(t *testing.T, conn *ws.Conn, event string) Message {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		if msg.Event == event {
			return msg
		}
	}
}

// expectSilence asserts that no frame with event arrives within d.
func expectSilence(t *testing.T, conn *ws.Conn, event string, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		require.NotEqual(t, event, msg.Event, "unexpected %s: %s", event, string(msg.Data))
	}
}
