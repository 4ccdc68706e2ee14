package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/domain"
)

// Manager owns every namespace of the process and is the API the transport and
// the operations surface talk to. Namespaces are independent workers, so the
// manager only locks its own lookup table.
type Manager struct {
	transport domain.Transport
	clock     clockwork.Clock
	metrics   *metrics.RelayMetrics
	newID     func() string

	mu         sync.RWMutex
	namespaces map[string]*namespace
	closed     bool
}

// NewManager creates a manager publishing through transport.
// relayMetrics may be nil.
func NewManager(transport domain.Transport, clock clockwork.Clock, relayMetrics *metrics.RelayMetrics) *Manager {
	return &Manager{
		transport:  transport,
		clock:      clock,
		metrics:    relayMetrics,
		newID:      uuid.NewString,
		namespaces: make(map[string]*namespace),
	}
}

// Configure validates opts and applies them to the named namespace, creating it
// (stopped) if it does not exist yet. A period change on a running namespace
// resets its ticker without flushing and without touching the registry.
func (m *Manager) Configure(name string, opts domain.Options) error {
	if name == "" {
		return fmt.Errorf("%w: namespace name must not be empty", domain.ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("configure namespace %q: %w", name, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("namespace %q: %w", name, domain.ErrNamespaceClosed)
	}
	ns, exists := m.namespaces[name]
	if !exists {
		ns = newNamespace(name, opts, m.transport, m.clock, m.metrics, m.newID)
		m.namespaces[name] = ns
		go ns.run()
	}
	m.mu.Unlock()

	if !exists {
		slog.Info("Namespace created",
			"namespace", name,
			"individual_events", opts.IndividualEvents,
			"update_frequency", opts.UpdateFrequency,
			"idle_timeout", opts.IdleTimeout.String(),
		)
		return nil
	}

	reply := make(chan struct{}, 1)
	if err := ns.enqueue(configureCmd{options: opts, replyChannel: reply}); err != nil {
		return err
	}
	_, err := await(ns, reply)
	return err
}

// Start begins the periodic flush of a namespace. Starting a running namespace
// is a no-op.
func (m *Manager) Start(name string) error {
	ns, err := m.lookup(name)
	if err != nil {
		return err
	}
	reply := make(chan bool, 1)
	if err := ns.enqueue(startCmd{replyChannel: reply}); err != nil {
		return err
	}
	_, err = await(ns, reply)
	return err
}

// Stop cancels the periodic flush of a namespace and keeps its state.
func (m *Manager) Stop(name string) error {
	ns, err := m.lookup(name)
	if err != nil {
		return err
	}
	reply := make(chan bool, 1)
	if err := ns.enqueue(stopCmd{replyChannel: reply}); err != nil {
		return err
	}
	_, err = await(ns, reply)
	return err
}

// HandleConnection admits a connection as a screen or controller and returns the
// id assigned to it. The connection receives connection-success.
func (m *Manager) HandleConnection(name, connectionID string, role domain.Role) (string, error) {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return "", fmt.Errorf("admit %s: %w", connectionID, err)
	}
	ns, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	reply := make(chan string, 1)
	if err := ns.enqueue(admitCmd{connectionID: connectionID, role: role, replyChannel: reply}); err != nil {
		return "", err
	}
	return await(ns, reply)
}

// HandleControllerUpdate merges patch into the controller's data and marks the
// namespace dirty. It does not wait for the worker.
func (m *Manager) HandleControllerUpdate(name, connectionID string, patch any) error {
	ns, err := m.lookup(name)
	if err != nil {
		return err
	}
	return ns.enqueue(updateCmd{connectionID: connectionID, patch: patch})
}

// HandleDisconnectRequest removes the connection's record for role at the
// client's request and acknowledges with disconnection-success.
func (m *Manager) HandleDisconnectRequest(name, connectionID string, role domain.Role) error {
	ns, err := m.lookup(name)
	if err != nil {
		return err
	}
	return ns.enqueue(removeCmd{connectionID: connectionID, role: role, acknowledge: true})
}

// HandleConnectionClosed removes whatever the closed connection held.
func (m *Manager) HandleConnectionClosed(name, connectionID string) error {
	ns, err := m.lookup(name)
	if err != nil {
		return err
	}
	return ns.enqueue(removeCmd{connectionID: connectionID})
}

// Status reports the scheduler state and population of a namespace.
func (m *Manager) Status(name string) (domain.NamespaceStatus, error) {
	ns, err := m.lookup(name)
	if err != nil {
		return domain.NamespaceStatus{}, err
	}
	reply := make(chan domain.NamespaceStatus, 1)
	if err := ns.enqueue(statusCmd{replyChannel: reply}); err != nil {
		return domain.NamespaceStatus{}, err
	}
	return await(ns, reply)
}

// Snapshot returns the current controller states of a namespace.
func (m *Manager) Snapshot(name string) ([]domain.ControllerState, error) {
	ns, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	reply := make(chan []domain.ControllerState, 1)
	if err := ns.enqueue(snapshotCmd{replyChannel: reply}); err != nil {
		return nil, err
	}
	return await(ns, reply)
}

// Namespaces lists the configured namespace names in sorted order.
func (m *Manager) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether a namespace is configured.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.namespaces[name]
	return ok
}

// Ping checks that every namespace worker answers a status query.
func (m *Manager) Ping(ctx context.Context) error {
	for _, name := range m.Namespaces() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ping namespaces: %w", err)
		}
		if _, err := m.Status(name); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops every namespace worker. Later calls fail with
// domain.ErrNamespaceClosed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	namespaces := make([]*namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		namespaces = append(namespaces, ns)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ns := range namespaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ns.shutdown()
		}()
	}
	wg.Wait()
	slog.Info("Relay manager stopped", "namespaces", len(namespaces))
}

func (m *Manager) lookup(name string) (*namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("namespace %q: %w", name, domain.ErrNamespaceNotFound)
	}
	return ns, nil
}
