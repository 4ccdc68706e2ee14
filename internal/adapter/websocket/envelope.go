package websocket

import (
	"encoding/json"
	"fmt"
)

// Message is the JSON envelope of every frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeMessage(event string, payload any) ([]byte, error) {
	msg := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

func decodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("decode frame: missing event")
	}
	return msg, nil
}
