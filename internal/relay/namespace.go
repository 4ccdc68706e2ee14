package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/adapter/metrics"
	"github.com/pscheid92/controlrelay/internal/domain"
)

const (
	commandTimeout    = 5 * time.Second
	commandBufferSize = 256
)

// namespaceCmd is the command interface for the namespace worker.
type namespaceCmd interface{ isNamespaceCmd() }

type baseNamespaceCmd struct{}

func (baseNamespaceCmd) isNamespaceCmd() {}

type admitCmd struct {
	baseNamespaceCmd
	connectionID string
	role         domain.Role
	replyChannel chan string
}

type removeCmd struct {
	baseNamespaceCmd
	connectionID string
	role         domain.Role // empty removes whichever role is held
	acknowledge  bool
}

type updateCmd struct {
	baseNamespaceCmd
	connectionID string
	patch        any
}

type configureCmd struct {
	baseNamespaceCmd
	options      domain.Options
	replyChannel chan struct{}
}

type startCmd struct {
	baseNamespaceCmd
	replyChannel chan bool
}

type stopCmd struct {
	baseNamespaceCmd
	replyChannel chan bool
}

type statusCmd struct {
	baseNamespaceCmd
	replyChannel chan domain.NamespaceStatus
}

type snapshotCmd struct {
	baseNamespaceCmd
	replyChannel chan []domain.ControllerState
}

type shutdownCmd struct {
	baseNamespaceCmd
}

// namespace is one broadcast domain: a registry, a scheduler and the options,
// all owned by a single goroutine.
type namespace struct {
	name      string
	cmdCh     chan namespaceCmd
	done      chan struct{}
	closeOnce sync.Once
	clock     clockwork.Clock
	transport domain.Transport
	metrics   *metrics.RelayMetrics
	log       *slog.Logger

	registry   *Registry
	scheduler  *scheduler
	individual bool
	options    domain.Options
}

// newNamespace builds a namespace without starting its worker. The scheduler
// starts out stopped.
func newNamespace(name string, opts domain.Options, transport domain.Transport, clock clockwork.Clock, relayMetrics *metrics.RelayMetrics, newID func() string) *namespace {
	return &namespace{
		name:       name,
		cmdCh:      make(chan namespaceCmd, commandBufferSize),
		done:       make(chan struct{}),
		clock:      clock,
		transport:  transport,
		metrics:    relayMetrics,
		log:        slog.With("namespace", name),
		registry:   NewRegistry(newID),
		scheduler:  newScheduler(clock, opts.UpdateFrequency, opts.IdleTimeout),
		individual: opts.IndividualEvents,
		options:    opts,
	}
}

func (n *namespace) run() {
	defer n.closeDone()
	defer n.scheduler.stop()

	for {
		select {
		case cmd := <-n.cmdCh:
			if _, ok := cmd.(shutdownCmd); ok {
				n.log.Info("Namespace worker stopped", "controllers", n.registry.ControllerCount(), "screens", n.registry.ScreenCount())
				n.metrics.SchedulerRunning(n.name, false)
				return
			}
			n.safely(func() { n.dispatch(cmd) })
		case now := <-n.scheduler.ticks():
			n.safely(func() { n.handleTick(now) })
		}
	}
}

// safely keeps the worker alive when a single command panics.
func (n *namespace) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("Namespace worker panic recovered", "panic", r)
			n.metrics.Anomaly(n.name, metrics.AnomalyWorkerPanic)
		}
	}()
	fn()
}

func (n *namespace) dispatch(cmd namespaceCmd) {
	switch c := cmd.(type) {
	case admitCmd:
		c.replyChannel <- n.handleAdmit(c.connectionID, c.role)
	case removeCmd:
		n.handleRemove(c.connectionID, c.role, c.acknowledge)
	case updateCmd:
		n.handleUpdate(c.connectionID, c.patch)
	case configureCmd:
		n.handleConfigure(c.options)
		c.replyChannel <- struct{}{}
	case startCmd:
		c.replyChannel <- n.handleStart()
	case stopCmd:
		c.replyChannel <- n.handleStop()
	case statusCmd:
		c.replyChannel <- n.status()
	case snapshotCmd:
		c.replyChannel <- n.registry.Snapshot()
	default:
		n.log.Warn("Namespace received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
}

func (n *namespace) handleAdmit(connectionID string, role domain.Role) string {
	var id string

	switch role {
	case domain.RoleScreen:
		if n.registry.RemoveController(connectionID) {
			n.transport.Leave(connectionID, domain.ControllerGroup(n.name))
			n.scheduler.markDirty()
			n.roleConflict(connectionID, role)
		}
		screen, replaced := n.registry.AdmitScreen(connectionID)
		if replaced {
			n.duplicateAdmission(connectionID, role)
		}
		n.transport.Join(connectionID, domain.ScreenGroup(n.name))
		n.transport.Send(connectionID, domain.EventConnectionSuccess, domain.ScreenConnected{ID: screen.ID})
		id = screen.ID

	case domain.RoleController:
		if n.registry.RemoveScreen(connectionID) {
			n.transport.Leave(connectionID, domain.ScreenGroup(n.name))
			n.roleConflict(connectionID, role)
		}
		controller, replaced := n.registry.AdmitController(connectionID)
		if replaced {
			// The old id must not outlive the record in the screens' view.
			n.scheduler.markDirty()
			n.duplicateAdmission(connectionID, role)
		}
		n.transport.Join(connectionID, domain.ControllerGroup(n.name))
		n.transport.Send(connectionID, domain.EventConnectionSuccess, domain.ControllerConnected{ID: controller.ID, Room: n.name})
		id = controller.ID

	default:
		n.log.Warn("Admission with unknown role ignored", "connection_id", connectionID, "role", role)
		return ""
	}

	n.log.Debug("Connection admitted", "connection_id", connectionID, "role", role, "id", id)
	n.recordPopulation()
	return id
}

func (n *namespace) handleRemove(connectionID string, role domain.Role, acknowledge bool) {
	removed := false
	if role != domain.RoleScreen && n.registry.RemoveController(connectionID) {
		n.transport.Leave(connectionID, domain.ControllerGroup(n.name))
		// Screens must stop seeing a departed controller on the next tick.
		n.scheduler.markDirty()
		removed = true
	}
	if role != domain.RoleController && n.registry.RemoveScreen(connectionID) {
		n.transport.Leave(connectionID, domain.ScreenGroup(n.name))
		removed = true
	}

	if !removed {
		n.log.Debug("Removal for untracked connection ignored", "connection_id", connectionID, "role", role)
		return
	}

	if acknowledge {
		n.transport.Send(connectionID, domain.EventDisconnectionSuccess, nil)
	}
	n.log.Debug("Connection removed", "connection_id", connectionID, "controllers", n.registry.ControllerCount(), "screens", n.registry.ScreenCount())
	n.recordPopulation()
}

func (n *namespace) handleUpdate(connectionID string, patch any) {
	if role, ok := n.registry.RoleOf(connectionID); ok && role == domain.RoleScreen {
		n.log.Warn("Controller update from a screen ignored", "connection_id", connectionID)
		n.metrics.Anomaly(n.name, metrics.AnomalyRoleConflict)
		return
	}

	controller, created := n.registry.UpdateController(connectionID, patch)
	if created {
		n.log.Warn("Update for unknown connection, created placeholder controller", "connection_id", connectionID, "id", controller.ID)
		n.metrics.Anomaly(n.name, metrics.AnomalyUnknownConnection)
		n.transport.Join(connectionID, domain.ControllerGroup(n.name))
		n.recordPopulation()
	}

	n.scheduler.markDirty()

	if n.individual {
		state := domain.ControllerState{ID: controller.ID, Data: controller.Data}
		n.transport.Broadcast(domain.ScreenGroup(n.name), domain.IndividualUpdateEvent(connectionID), state)
		n.metrics.IndividualEvent(n.name)
	}
}

func (n *namespace) handleConfigure(opts domain.Options) {
	n.options = opts
	n.individual = opts.IndividualEvents
	n.scheduler.reconfigure(opts.UpdateFrequency, opts.IdleTimeout)
	n.log.Info("Namespace reconfigured",
		"individual_events", opts.IndividualEvents,
		"update_frequency", opts.UpdateFrequency,
		"idle_timeout", opts.IdleTimeout.String(),
	)
}

func (n *namespace) handleStart() bool {
	started := n.scheduler.start()
	if started {
		n.log.Info("Scheduler started", "period", n.scheduler.period, "dirty", n.scheduler.dirty())
		n.metrics.SchedulerRunning(n.name, true)
	}
	return started
}

func (n *namespace) handleStop() bool {
	stopped := n.scheduler.stop()
	if stopped {
		n.log.Info("Scheduler stopped")
		n.metrics.SchedulerRunning(n.name, false)
	}
	return stopped
}

func (n *namespace) handleTick(now time.Time) {
	out := n.scheduler.tick(now)

	if out.flush {
		n.transport.Broadcast(domain.ScreenGroup(n.name), domain.EventControllerUpdate, n.registry.Snapshot())
		n.metrics.Flushed(n.name)
	}

	if out.autoStopped {
		n.log.Info("Scheduler stopped after idle timeout", "idle_timeout", n.options.IdleTimeout.String())
		n.metrics.AutoStopped(n.name)
		n.metrics.SchedulerRunning(n.name, false)
	}
}

func (n *namespace) status() domain.NamespaceStatus {
	return domain.NamespaceStatus{
		Name:        n.name,
		Running:     n.scheduler.running(),
		Dirty:       n.scheduler.dirty(),
		Controllers: n.registry.ControllerCount(),
		Screens:     n.registry.ScreenCount(),
		Options:     n.options,
	}
}

func (n *namespace) roleConflict(connectionID string, role domain.Role) {
	n.log.Warn("Connection switched role, previous record evicted", "connection_id", connectionID, "role", role)
	n.metrics.Anomaly(n.name, metrics.AnomalyRoleConflict)
}

func (n *namespace) duplicateAdmission(connectionID string, role domain.Role) {
	n.log.Warn("Duplicate admission, previous record replaced", "connection_id", connectionID, "role", role)
	n.metrics.Anomaly(n.name, metrics.AnomalyDuplicateAdmission)
}

func (n *namespace) recordPopulation() {
	n.metrics.Population(n.name, n.registry.ControllerCount(), n.registry.ScreenCount())
}

func (n *namespace) closeDone() {
	n.closeOnce.Do(func() { close(n.done) })
}

// --- Worker API, used by Manager ---

// enqueue hands a command to the worker. It fails once the worker has exited.
func (n *namespace) enqueue(cmd namespaceCmd) error {
	select {
	case <-n.done:
		return fmt.Errorf("namespace %q: %w", n.name, domain.ErrNamespaceClosed)
	default:
	}

	select {
	case n.cmdCh <- cmd:
		return nil
	case <-n.done:
		return fmt.Errorf("namespace %q: %w", n.name, domain.ErrNamespaceClosed)
	}
}

// await waits for a worker reply, bounded by commandTimeout.
func await[T any](n *namespace, reply chan T) (T, error) {
	timer := n.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-n.done:
		return zero, fmt.Errorf("namespace %q: %w", n.name, domain.ErrNamespaceClosed)
	case <-timer.Chan():
		return zero, fmt.Errorf("namespace %q: command timed out after %v", n.name, commandTimeout)
	}
}

func (n *namespace) shutdown() {
	select {
	case n.cmdCh <- shutdownCmd{}:
	case <-n.done:
		return
	}

	timer := n.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
	case <-timer.Chan():
		n.log.Warn("Namespace stop timeout exceeded", "timeout", commandTimeout)
	}
}
