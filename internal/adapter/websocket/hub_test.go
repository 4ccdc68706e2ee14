package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub starts a hub behind a test server. Connections are registered under
// the id given in the "id" query parameter.
func testHub(t *testing.T, wsMetrics *metrics.WebSocketMetrics) (*Hub, func(id string) *ws.Conn) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock(), wsMetrics)
	t.Cleanup(func() { hub.Stop("test done") })

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := r.URL.Query().Get("id")
		if err := hub.Register(id, conn); err != nil {
			_ = conn.Close()
			return
		}
		go func() {
			defer hub.Unregister(id)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	connect := func(id string) *ws.Conn {
		t.Helper()
		return dial(t, wsURL(server, "/?id="+id))
	}
	return hub, connect
}

func waitForGroupSize(t *testing.T, hub *Hub, group string, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.GroupSize(group) == expected
	}, readTimeout, time.Millisecond, "group %s never reached %d members", group, expected)
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	hub, connect := testHub(t, nil)

	screenA := connect("a")
	screenB := connect("b")
	controller := connect("c")

	hub.Join("a", "default:screens")
	hub.Join("b", "default:screens")
	hub.Join("c", "default:controllers")
	waitForGroupSize(t, hub, "default:screens", 2)
	waitForGroupSize(t, hub, "default:controllers", 1)

	hub.Broadcast("default:screens", "controller-update", []map[string]any{{"id": "x", "data": map[string]any{"x": 1}}})

	for _, conn := range []*ws.Conn{screenA, screenB} {
		msg := readEvent(t, conn, "controller-update")
		assert.JSONEq(t, `[{"id":"x","data":{"x":1}}]`, string(msg.Data))
	}
	expectSilence(t, controller, "controller-update", 50*time.Millisecond)
}

func TestHub_SendTargetsOneConnection(t *testing.T) {
	hub, connect := testHub(t, nil)

	first := connect("first")
	second := connect("second")
	hub.Join("first", "g")
	hub.Join("second", "g")
	waitForGroupSize(t, hub, "g", 2)

	hub.Send("first", "connection-success", map[string]string{"id": "abc"})

	msg := readEvent(t, first, "connection-success")
	assert.JSONEq(t, `{"id":"abc"}`, string(msg.Data))
	expectSilence(t, second, "connection-success", 50*time.Millisecond)
}

func TestHub_SendWithoutPayloadOmitsData(t *testing.T) {
	hub, connect := testHub(t, nil)

	conn := connect("solo")
	hub.Join("solo", "g")
	waitForGroupSize(t, hub, "g", 1)

	hub.Send("solo", "disconnection-success", nil)

	msg := readEvent(t, conn, "disconnection-success")
	assert.Empty(t, msg.Data)
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub, connect := testHub(t, nil)

	conn := connect("leaver")
	hub.Join("leaver", "g")
	waitForGroupSize(t, hub, "g", 1)

	hub.Leave("leaver", "g")
	waitForGroupSize(t, hub, "g", 0)

	hub.Broadcast("g", "controller-update", []any{})
	expectSilence(t, conn, "controller-update", 50*time.Millisecond)
}

func TestHub_UnregisterDropsMemberships(t *testing.T) {
	hub, connect := testHub(t, nil)

	conn := connect("gone")
	hub.Join("gone", "g1")
	hub.Join("gone", "g2")
	waitForGroupSize(t, hub, "g1", 1)
	waitForGroupSize(t, hub, "g2", 1)

	require.NoError(t, conn.Close())

	waitForGroupSize(t, hub, "g1", 0)
	waitForGroupSize(t, hub, "g2", 0)
}

func TestHub_JoinForUnknownConnectionIgnored(t *testing.T) {
	hub, _ := testHub(t, nil)

	hub.Join("ghost", "g")
	assert.Equal(t, 0, hub.GroupSize("g"))
}

func TestHub_RegisterDuplicateRejected(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), nil)
	defer hub.Stop("test done")

	serverConn, _ := connPair(t)
	require.NoError(t, hub.Register("dup", serverConn))
	assert.Error(t, hub.Register("dup", serverConn))
}

func TestHub_SlowClientEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	serverConn, clientConn := connPair(t)

	// A writer without its run goroutine never drains its buffer.
	cw := &clientWriter{
		connectionID: "slow",
		connection:   serverConn,
		clock:        clockwork.NewRealClock(),
		sendChannel:  make(chan []byte, 1),
		doneChannel:  make(chan struct{}),
		groups:       make(map[string]struct{}),
	}
	hub := &Hub{
		metrics: wsMetrics,
		clients: map[string]*clientWriter{"slow": cw},
		groups:  make(map[string]map[string]struct{}),
	}
	wsMetrics.ActiveConnections.Inc()
	hub.handleJoin("slow", "default:screens")

	hub.handleBroadcast("default:screens", []byte(`{"event":"controller-update","data":[]}`))
	assert.Contains(t, hub.clients, "slow")

	hub.handleBroadcast("default:screens", []byte(`{"event":"controller-update","data":[]}`))
	assert.NotContains(t, hub.clients, "slow")
	assert.NotContains(t, hub.groups, "default:screens")
	assert.Equal(t, float64(1), testutil.ToFloat64(wsMetrics.SlowClientsEvicted))
	assert.Equal(t, float64(0), testutil.ToFloat64(wsMetrics.ActiveConnections))

	// The eviction closed the connection.
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := clientConn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_StopSendsCloseFrame(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), nil)

	serverConn, clientConn := connPair(t)
	require.NoError(t, hub.Register("c", serverConn))

	hub.Stop("server shutting down")

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := clientConn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)

	// Calls after stop return instead of blocking.
	hub.Broadcast("g", "controller-update", []any{})
	assert.ErrorIs(t, hub.Register("late", serverConn), ErrHubStopped)
}

func TestHub_MetricsCountDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	hub, connect := testHub(t, wsMetrics)

	conn := connect("m")
	hub.Join("m", "g")
	waitForGroupSize(t, hub, "g", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(wsMetrics.ActiveConnections))

	hub.Broadcast("g", "controller-update", []any{})
	readEvent(t, conn, "controller-update")
	assert.Equal(t, float64(1), testutil.ToFloat64(wsMetrics.MessagesSent))
}

func TestEncodeMessage(t *testing.T) {
	frame, err := encodeMessage("connection-success", map[string]string{"id": "1", "room": "default"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connection-success","data":{"id":"1","room":"default"}}`, string(frame))

	frame, err = encodeMessage("disconnection-success", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"disconnection-success"}`, string(frame))

	_, err = encodeMessage("controller-update", func() {})
	assert.Error(t, err)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"event":"controller-update","data":{"x":0.5}}`))
	require.NoError(t, err)
	assert.Equal(t, "controller-update", msg.Event)
	assert.JSONEq(t, `{"x":0.5}`, string(msg.Data))

	_, err = decodeMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = decodeMessage([]byte(`{"data":{}}`))
	assert.Error(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal([]byte(`{"event":"screen-connection"}`), &decoded))
	assert.Empty(t, decoded.Data)
}
