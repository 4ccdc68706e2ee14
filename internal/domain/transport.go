package domain

// Transport is the real-time channel the relay core publishes through.
// All calls are fire-and-forget: delivery failures are the transport's concern
// and a missed batch is superseded by the next flush.
type Transport interface {
	Join(connectionID, group string)
	Leave(connectionID, group string)
	Send(connectionID, event string, payload any)
	Broadcast(group, event string, payload any)
}
