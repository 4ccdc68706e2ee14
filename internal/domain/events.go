package domain

// Wire event names shared by the relay core and the transport.
const (
	EventScreenConnection     = "screen-connection"
	EventControllerConnection = "controller-connection"
	EventControllerUpdate     = "controller-update"
	EventControllerDisconnect = "controller-disconnect"
	EventScreenDisconnect     = "screen-disconnect"

	EventConnectionSuccess    = "connection-success"
	EventDisconnectionSuccess = "disconnection-success"
)

// IndividualUpdateEvent is the per-connection event name used in individual mode.
func IndividualUpdateEvent(connectionID string) string {
	return EventControllerUpdate + "-" + connectionID
}

// ScreenGroup is the broadcast group holding the screens of a namespace.
func ScreenGroup(namespace string) string {
	return namespace + ":screens"
}

// ControllerGroup is the broadcast group holding the controllers of a namespace.
func ControllerGroup(namespace string) string {
	return namespace + ":controllers"
}

// ScreenConnected is the connection-success payload for screens.
type ScreenConnected struct {
	ID string `json:"id"`
}

// ControllerConnected is the connection-success payload for controllers.
type ControllerConnected struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}
