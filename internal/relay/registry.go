package relay

import (
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/pscheid92/controlrelay/internal/domain"
)

// Registry stores the live controllers and screens of one namespace, keyed by
// connection id. It is owned by a single namespace worker and is not safe for
// concurrent use.
//
// Controller data is copy-on-write: merges always build a new map, so snapshots
// handed to the transport are never mutated afterwards.
type Registry struct {
	newID       func() string
	controllers map[string]*domain.Controller
	order       []string
	screens     map[string]*domain.Screen
}

// NewRegistry creates an empty registry. A nil newID uses random UUIDs.
func NewRegistry(newID func() string) *Registry {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Registry{
		newID:       newID,
		controllers: make(map[string]*domain.Controller),
		screens:     make(map[string]*domain.Screen),
	}
}

// AdmitScreen inserts a screen with a fresh id. An existing record for the same
// connection is overwritten; replaced reports whether that happened.
func (r *Registry) AdmitScreen(connectionID string) (screen domain.Screen, replaced bool) {
	_, replaced = r.screens[connectionID]
	s := &domain.Screen{ID: r.newID(), ConnectionID: connectionID}
	r.screens[connectionID] = s
	return *s, replaced
}

// AdmitController inserts a controller with nil data and a fresh id. A duplicate
// admission overwrites the prior record and moves it to the end of the order.
func (r *Registry) AdmitController(connectionID string) (controller domain.Controller, replaced bool) {
	replaced = r.RemoveController(connectionID)
	c := &domain.Controller{ID: r.newID(), ConnectionID: connectionID}
	r.controllers[connectionID] = c
	r.order = append(r.order, connectionID)
	return *c, replaced
}

// RemoveScreen is idempotent; it reports whether a record was removed.
func (r *Registry) RemoveScreen(connectionID string) bool {
	if _, ok := r.screens[connectionID]; !ok {
		return false
	}
	delete(r.screens, connectionID)
	return true
}

// RemoveController is idempotent; it reports whether a record was removed.
func (r *Registry) RemoveController(connectionID string) bool {
	if _, ok := r.controllers[connectionID]; !ok {
		return false
	}
	delete(r.controllers, connectionID)
	if i := slices.Index(r.order, connectionID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// UpdateController merges patch into the controller's data. An update for an
// unknown connection creates a placeholder controller instead of failing;
// created reports that case.
func (r *Registry) UpdateController(connectionID string, patch any) (controller domain.Controller, created bool) {
	c, ok := r.controllers[connectionID]
	if !ok {
		c = &domain.Controller{ID: r.newID(), ConnectionID: connectionID, Placeholder: true}
		r.controllers[connectionID] = c
		r.order = append(r.order, connectionID)
		created = true
	}
	c.Data = mergeData(c.Data, patch)
	return *c, created
}

// Snapshot returns the public projection of all controllers in insertion order.
// It never returns nil so an empty namespace encodes as [].
func (r *Registry) Snapshot() []domain.ControllerState {
	states := make([]domain.ControllerState, 0, len(r.order))
	for _, connectionID := range r.order {
		c := r.controllers[connectionID]
		states = append(states, domain.ControllerState{ID: c.ID, Data: c.Data})
	}
	return states
}

// RoleOf reports the role a connection currently holds.
func (r *Registry) RoleOf(connectionID string) (domain.Role, bool) {
	if _, ok := r.controllers[connectionID]; ok {
		return domain.RoleController, true
	}
	if _, ok := r.screens[connectionID]; ok {
		return domain.RoleScreen, true
	}
	return "", false
}

func (r *Registry) ControllerCount() int { return len(r.controllers) }

func (r *Registry) ScreenCount() int { return len(r.screens) }

// mergeData shallow-merges two JSON objects; any other combination replaces.
func mergeData(current, patch any) any {
	base, baseIsObject := current.(map[string]any)
	overlay, patchIsObject := patch.(map[string]any)
	if !patchIsObject {
		return patch
	}
	merged := make(map[string]any, len(base)+len(overlay))
	if baseIsObject {
		maps.Copy(merged, base)
	}
	maps.Copy(merged, overlay)
	return merged
}
