package protocol

import "time"

// EventFrame is a single websocket frame of the event feed.
type EventFrame struct {
	Type    string    `json:"type"` // always "event"
	Event   string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
}

// NewEvent builds an event frame stamped with the current time.
func NewEvent(name string, payload any) EventFrame {
	return EventFrame{Type: "event", Event: name, Payload: payload, Time: time.Now()}
}
