package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/domain"
)

const (
	hubCommandBufferSize = 1024
	hubCommandTimeout    = 5 * time.Second
)

var ErrHubStopped = errors.New("websocket hub stopped")

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connectionID string
	connection   *websocket.Conn
	errCh        chan error
}

type unregisterCmd struct {
	baseHubCmd
	connectionID string
}

type joinCmd struct {
	baseHubCmd
	connectionID string
	group        string
}

type leaveCmd struct {
	baseHubCmd
	connectionID string
	group        string
}

type sendCmd struct {
	baseHubCmd
	connectionID string
	data         []byte
}

type broadcastCmd struct {
	baseHubCmd
	group string
	data  []byte
}

type groupSizeCmd struct {
	baseHubCmd
	group   string
	replyCh chan int
}

type stopCmd struct {
	baseHubCmd
	reason string
}

// Hub owns every live connection and the group memberships the relay assigns.
// It implements domain.Transport; all mutations run on a single goroutine.
type Hub struct {
	cmdCh   chan hubCmd
	done    chan struct{}
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics

	clients map[string]*clientWriter
	groups  map[string]map[string]struct{}
}

var _ domain.Transport = (*Hub)(nil)

// NewHub creates and starts a hub. wsMetrics may be nil.
func NewHub(clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Hub {
	h := &Hub{
		cmdCh:   make(chan hubCmd, hubCommandBufferSize),
		done:    make(chan struct{}),
		clock:   clock,
		metrics: wsMetrics,
		clients: make(map[string]*clientWriter),
		groups:  make(map[string]map[string]struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			c.errCh <- h.handleRegister(c.connectionID, c.connection)
		case unregisterCmd:
			h.handleUnregister(c.connectionID)
		case joinCmd:
			h.handleJoin(c.connectionID, c.group)
		case leaveCmd:
			h.handleLeave(c.connectionID, c.group)
		case sendCmd:
			h.handleSend(c.connectionID, c.data)
		case broadcastCmd:
			h.handleBroadcast(c.group, c.data)
		case groupSizeCmd:
			c.replyCh <- len(h.groups[c.group])
		case stopCmd:
			h.handleStop(c.reason)
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(connectionID string, connection *websocket.Conn) error {
	if _, exists := h.clients[connectionID]; exists {
		return fmt.Errorf("connection %s already registered", connectionID)
	}
	h.clients[connectionID] = newClientWriter(connectionID, connection, h.clock)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
	return nil
}

func (h *Hub) handleUnregister(connectionID string) {
	cw, exists := h.clients[connectionID]
	if !exists {
		return
	}
	h.detach(cw)
	cw.stop()
}

func (h *Hub) handleJoin(connectionID, group string) {
	cw, exists := h.clients[connectionID]
	if !exists {
		slog.Debug("Join for unregistered connection ignored", "connection_id", connectionID, "group", group)
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connectionID] = struct{}{}
	cw.groups[group] = struct{}{}
}

func (h *Hub) handleLeave(connectionID, group string) {
	if cw, exists := h.clients[connectionID]; exists {
		delete(cw.groups, group)
	}
	h.removeMember(group, connectionID)
}

func (h *Hub) handleSend(connectionID string, data []byte) {
	cw, exists := h.clients[connectionID]
	if !exists {
		return
	}
	if !h.deliver(cw, data) {
		h.evict(cw)
	}
}

func (h *Hub) handleBroadcast(group string, data []byte) {
	members := h.groups[group]
	if len(members) == 0 {
		return
	}

	var slow []*clientWriter
	for connectionID := range members {
		cw := h.clients[connectionID]
		if cw == nil {
			continue
		}
		if !h.deliver(cw, data) {
			slow = append(slow, cw)
		}
	}

	for _, cw := range slow {
		h.evict(cw)
	}
}

func (h *Hub) deliver(cw *clientWriter, data []byte) bool {
	if !cw.enqueue(data) {
		return false
	}
	if h.metrics != nil {
		h.metrics.MessagesSent.Inc()
	}
	return true
}

// evict drops a client whose send buffer is full. Closing the connection ends
// its read loop, which reports the disconnect to the relay.
func (h *Hub) evict(cw *clientWriter) {
	slog.Warn("Disconnecting slow client", "connection_id", cw.connectionID, "buffer_size", messageBufferSize)
	if h.metrics != nil {
		h.metrics.SlowClientsEvicted.Inc()
	}
	h.detach(cw)
	cw.stop()
}

func (h *Hub) detach(cw *clientWriter) {
	for group := range cw.groups {
		h.removeMember(group, cw.connectionID)
	}
	delete(h.clients, cw.connectionID)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}
}

func (h *Hub) removeMember(group, connectionID string) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) handleStop(reason string) {
	for _, cw := range h.clients {
		h.detach(cw)
		cw.stopGraceful(reason)
	}
	slog.Info("Hub stopped")
}

// --- Public API ---

// Register hands a freshly upgraded connection to the hub.
func (h *Hub) Register(connectionID string, connection *websocket.Conn) error {
	errCh := make(chan error, 1)
	if err := h.enqueue(registerCmd{connectionID: connectionID, connection: connection, errCh: errCh}); err != nil {
		return err
	}

	timer := h.clock.NewTimer(hubCommandTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-h.done:
		return ErrHubStopped
	case <-timer.Chan():
		return fmt.Errorf("register %s: timed out after %v", connectionID, hubCommandTimeout)
	}
}

// Unregister stops the connection's writer and drops its memberships.
func (h *Hub) Unregister(connectionID string) {
	_ = h.enqueue(unregisterCmd{connectionID: connectionID})
}

func (h *Hub) Join(connectionID, group string) {
	_ = h.enqueue(joinCmd{connectionID: connectionID, group: group})
}

func (h *Hub) Leave(connectionID, group string) {
	_ = h.enqueue(leaveCmd{connectionID: connectionID, group: group})
}

func (h *Hub) Send(connectionID, event string, payload any) {
	data, err := encodeMessage(event, payload)
	if err != nil {
		slog.Error("Failed to encode message", "event", event, "error", err)
		return
	}
	_ = h.enqueue(sendCmd{connectionID: connectionID, data: data})
}

func (h *Hub) Broadcast(group, event string, payload any) {
	data, err := encodeMessage(event, payload)
	if err != nil {
		slog.Error("Failed to encode broadcast", "event", event, "group", group, "error", err)
		return
	}
	_ = h.enqueue(broadcastCmd{group: group, data: data})
}

// GroupSize returns the number of connections in group.
func (h *Hub) GroupSize(group string) int {
	replyCh := make(chan int, 1)
	if err := h.enqueue(groupSizeCmd{group: group, replyCh: replyCh}); err != nil {
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.done:
		return 0
	}
}

// Stop closes every connection with a close frame carrying reason.
func (h *Hub) Stop(reason string) {
	if err := h.enqueue(stopCmd{reason: reason}); err != nil {
		return
	}
	<-h.done
}

func (h *Hub) enqueue(cmd hubCmd) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}
