package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the JSON object carried with an event.
type Payload map[string]any

// Well-known payload keys.
const (
	KeyProjectName = "project_name"
	KeyRoom        = "room"
	KeyRequestID   = "request_id"
	KeyMessage     = "message"
	KeyFrom        = "from"
	KeyTo          = "to"
	KeyMetadata    = "metadata"
)

// Clone returns a shallow copy of p. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the string value at key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Envelope is the frame format: {"event": "...", "data": {...}}.
type Envelope struct {
	Event Event   `json:"event"`
	Data  Payload `json:"data,omitempty"`
}

// ProtocolErr describes an inbound frame that could not be decoded.
type ProtocolErr struct {
	Frame []byte
	Err   error
}

func (e *ProtocolErr) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *ProtocolErr) Unwrap() error {
	return e.Err
}

// Encode marshals an envelope for the wire.
func Encode(e Event, data Payload) ([]byte, error) {
	if e.IsZero() {
		return nil, ErrMissingEvent
	}
	frame, err := json.Marshal(Envelope{Event: e, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e, err)
	}
	return frame, nil
}

// Decode parses a wire frame. Failures are returned as *ProtocolErr.
func Decode(frame []byte) (Envelope, error) {
	var wire struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Envelope{}, &ProtocolErr{Frame: frame, Err: err}
	}
	if wire.Event == "" {
		return Envelope{}, &ProtocolErr{Frame: frame, Err: ErrMissingEvent}
	}

	ev, err := Parse(wire.Event)
	if err != nil {
		return Envelope{}, &ProtocolErr{Frame: frame, Err: err}
	}

	env := Envelope{Event: ev, Data: Payload{}}
	if len(wire.Data) > 0 && string(wire.Data) != "null" {
		if err := json.Unmarshal(wire.Data, &env.Data); err != nil {
			return Envelope{}, &ProtocolErr{Frame: frame, Err: fmt.Errorf("data: %w", err)}
		}
	}
	return env, nil
}
