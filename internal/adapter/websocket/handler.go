package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/domain"
	"github.com/pscheid92/controlrelay/internal/platform/correlation"
)

const (
	maxMessageSize = 16 * 1024
	namespaceParam = "namespace"
)

// Legacy inbound event names still sent by older clients.
const (
	legacyScreenConnection        = "client-connection"
	legacyScreenDisconnection     = "client-disconnection"
	legacyControllerDisconnection = "controller-disconnection"
)

var errMissingPayload = errors.New("missing payload")

// Relay is the part of the relay manager the handler drives.
type Relay interface {
	Has(name string) bool
	HandleConnection(name, connectionID string, role domain.Role) (string, error)
	HandleControllerUpdate(name, connectionID string, patch any) error
	HandleDisconnectRequest(name, connectionID string, role domain.Role) error
	HandleConnectionClosed(name, connectionID string) error
}

// session identifies the connection an inbound event arrived on.
type session struct {
	connectionID string
	namespace    string
}

type eventHandler func(ctx context.Context, s session, data json.RawMessage) error

// Handler upgrades HTTP requests to websocket connections and feeds their
// events into the relay.
type Handler struct {
	hub      *Hub
	relay    Relay
	limits   *ConnectionLimits
	metrics  *metrics.WebSocketMetrics
	upgrader websocket.Upgrader
	events   map[string]eventHandler
	newID    func() string
}

// NewHandler wires a handler. limits and wsMetrics may be nil.
func NewHandler(hub *Hub, relay Relay, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, wsMetrics *metrics.WebSocketMetrics) *Handler {
	h := &Handler{
		hub:     hub,
		relay:   relay,
		limits:  limits,
		metrics: wsMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		newID: uuid.NewString,
	}
	h.events = map[string]eventHandler{
		domain.EventScreenConnection:     h.onScreenConnection,
		domain.EventControllerConnection: h.onControllerConnection,
		domain.EventControllerUpdate:     h.onControllerUpdate,
		domain.EventControllerDisconnect: h.onControllerDisconnect,
		domain.EventScreenDisconnect:     h.onScreenDisconnect,
		legacyScreenConnection:           h.onScreenConnection,
		legacyScreenDisconnection:        h.onScreenDisconnect,
		legacyControllerDisconnection:    h.onControllerDisconnect,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get(namespaceParam)
	if name == "" {
		name = domain.DefaultNamespace
	}
	if !h.relay.Has(name) {
		h.reject("unknown_namespace")
		http.Error(w, fmt.Sprintf("namespace %q not found", name), http.StatusNotFound)
		return
	}

	ip := remoteIP(r)
	if h.limits != nil {
		ok, reason := h.limits.Acquire(ip)
		if !ok {
			h.reject(string(reason))
			slog.Warn("WebSocket connection rejected", "reason", reason, "ip", ip)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		defer h.limits.Release(ip)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.reject("upgrade_failed")
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s := session{connectionID: h.newID(), namespace: name}
	ctx, _ := correlation.FromRequest(r.Context(), r)

	if err := h.hub.Register(s.connectionID, conn); err != nil {
		slog.ErrorContext(ctx, "Failed to register connection", "connection_id", s.connectionID, "error", err)
		_ = conn.Close()
		return
	}
	slog.DebugContext(ctx, "WebSocket connected", "connection_id", s.connectionID, "namespace", name, "ip", ip)

	defer func() {
		if err := h.relay.HandleConnectionClosed(s.namespace, s.connectionID); err != nil {
			slog.WarnContext(ctx, "Failed to release closed connection", "connection_id", s.connectionID, "error", err)
		}
		h.hub.Unregister(s.connectionID)
		slog.DebugContext(ctx, "WebSocket disconnected", "connection_id", s.connectionID)
	}()

	h.readLoop(ctx, conn, s)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, s session) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "WebSocket read failed", "connection_id", s.connectionID, "error", err)
			}
			return
		}

		msg, err := decodeMessage(frame)
		if err != nil {
			slog.WarnContext(ctx, "Malformed frame ignored", "connection_id", s.connectionID, "error", err)
			continue
		}
		h.dispatch(ctx, s, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, s session, msg Message) {
	handle, ok := h.events[msg.Event]
	if !ok {
		slog.DebugContext(ctx, "Unknown event ignored", "connection_id", s.connectionID, "event", msg.Event)
		h.received("unknown")
		return
	}
	h.received(msg.Event)

	if err := handle(ctx, s, msg.Data); err != nil {
		slog.WarnContext(ctx, "Event handling failed", "connection_id", s.connectionID, "event", msg.Event, "error", err)
	}
}

func (h *Handler) onScreenConnection(ctx context.Context, s session, _ json.RawMessage) error {
	id, err := h.relay.HandleConnection(s.namespace, s.connectionID, domain.RoleScreen)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Screen connected", "connection_id", s.connectionID, "namespace", s.namespace, "id", id)
	return nil
}

func (h *Handler) onControllerConnection(ctx context.Context, s session, _ json.RawMessage) error {
	id, err := h.relay.HandleConnection(s.namespace, s.connectionID, domain.RoleController)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Controller connected", "connection_id", s.connectionID, "namespace", s.namespace, "id", id)
	return nil
}

func (h *Handler) onControllerUpdate(_ context.Context, s session, data json.RawMessage) error {
	if len(data) == 0 {
		return errMissingPayload
	}
	// Numbers stay json.Number so payloads are relayed without float rounding.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var patch any
	if err := dec.Decode(&patch); err != nil {
		return fmt.Errorf("decode controller update: %w", err)
	}
	return h.relay.HandleControllerUpdate(s.namespace, s.connectionID, patch)
}

func (h *Handler) onControllerDisconnect(_ context.Context, s session, _ json.RawMessage) error {
	return h.relay.HandleDisconnectRequest(s.namespace, s.connectionID, domain.RoleController)
}

func (h *Handler) onScreenDisconnect(_ context.Context, s session, _ json.RawMessage) error {
	return h.relay.HandleDisconnectRequest(s.namespace, s.connectionID, domain.RoleScreen)
}

func (h *Handler) received(event string) {
	if h.metrics != nil {
		h.metrics.MessagesReceived.WithLabelValues(event).Inc()
	}
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.RejectedUpgrades.WithLabelValues(reason).Inc()
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
