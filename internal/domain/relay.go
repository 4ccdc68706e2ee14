package domain

// Role is the part a connection plays inside a namespace.
type Role string

const (
	RoleScreen     Role = "screen"
	RoleController Role = "controller"
)

// ParseRole maps a wire value to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleScreen, RoleController:
		return Role(s), nil
	default:
		return "", ErrUnknownRole
	}
}

// Controller is an input-producing client. Data holds the last known payload
// and is nil until the first update arrives.
type Controller struct {
	ID           string
	ConnectionID string
	Data         any
	Placeholder  bool
}

// Screen is a consumer client receiving aggregated controller state.
type Screen struct {
	ID           string
	ConnectionID string
}

// ControllerState is the public projection of a Controller sent to screens.
// The connection identity is never part of it.
type ControllerState struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// NamespaceStatus is a point-in-time view of a namespace worker.
type NamespaceStatus struct {
	Name        string  `json:"name"`
	Running     bool    `json:"running"`
	Dirty       bool    `json:"dirty"`
	Controllers int     `json:"controllers"`
	Screens     int     `json:"screens"`
	Options     Options `json:"options"`
}
