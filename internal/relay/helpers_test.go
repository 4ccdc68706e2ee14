package relay

import (
	"fmt"
	"sync"
)

// sequentialIDs returns an id generator yielding prefix1, prefix2, ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

type broadcastCall struct {
	Group   string
	Event   string
	Payload any
}

type sendCall struct {
	ConnectionID string
	Event        string
	Payload      any
}

// recordingTransport captures everything the relay publishes.
type recordingTransport struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	sends      []sendCall
	members    map[string]map[string]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{members: make(map[string]map[string]bool)}
}

func (r *recordingTransport) Join(connectionID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[group] == nil {
		r.members[group] = make(map[string]bool)
	}
	r.members[group][connectionID] = true
}

func (r *recordingTransport) Leave(connectionID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[group], connectionID)
}

func (r *recordingTransport) Send(connectionID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sendCall{ConnectionID: connectionID, Event: event, Payload: payload})
}

func (r *recordingTransport) Broadcast(group, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcastCall{Group: group, Event: event, Payload: payload})
}

func (r *recordingTransport) getBroadcasts(event string) []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcastCall
	for _, b := range r.broadcasts {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func (r *recordingTransport) getSends() []sendCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sendCall(nil), r.sends...)
}

func (r *recordingTransport) isMember(group, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[group][connectionID]
}
