// Package event defines the closed set of semantic event tags carried over
// the realtime connection and the JSON envelope they travel in.
//
// Event values can only be obtained from the exported variables or by
// decoding a frame, so a misspelled event name is a compile error rather
// than a silent no-op subscription.
package event

import (
	"errors"
	"fmt"
)

// Event is a semantic event tag.
type Event struct {
	name string
}

// Local lifecycle events, dispatched by the client itself.
var (
	Connect          = Event{"connect"}
	Disconnect       = Event{"disconnect"}
	ConnectionFailed = Event{"connection_failed"}
	ProtocolError    = Event{"protocol_error"}
)

// Outbound events.
var (
	JoinRoom      = Event{"join_room"}
	LeaveRoom     = Event{"leave_room"}
	ProjectSwitch = Event{"project_switch"}
	ChatCommand   = Event{"chat_command"}
	RequestStatus = Event{"request_status"}
)

// Inbound events. ChatMessage travels in both directions.
var (
	ChatMessage         = Event{"chat_message"}
	ChatResponse        = Event{"chat_response"}
	CommandResult       = Event{"command_result"}
	Status              = Event{"status"}
	Error               = Event{"error"}
	RoomJoined          = Event{"room_joined"}
	RoomLeft            = Event{"room_left"}
	ProjectSwitched     = Event{"project_switched"}
	ProjectSwitchFailed = Event{"project_switch_failed"}
)

var known = map[string]Event{}

func init() {
	for _, e := range []Event{
		Connect, Disconnect, ConnectionFailed, ProtocolError,
		JoinRoom, LeaveRoom, ProjectSwitch, ChatCommand, RequestStatus,
		ChatMessage, ChatResponse, CommandResult, Status, Error,
		RoomJoined, RoomLeft, ProjectSwitched, ProjectSwitchFailed,
	} {
		known[e.name] = e
	}
}

// Errors
var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingEvent = errors.New("envelope has no event name")
)

// Parse looks up an event by wire name.
func Parse(name string) (Event, error) {
	e, ok := known[name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	return e, nil
}

// String returns the wire name.
func (e Event) String() string {
	return e.name
}

// IsZero reports whether e is the zero Event.
func (e Event) IsZero() bool {
	return e.name == ""
}

// Local reports whether e is generated by the client and never sent.
func (e Event) Local() bool {
	switch e {
	case Connect, Disconnect, ConnectionFailed, ProtocolError:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) {
	if e.IsZero() {
		return nil, ErrMissingEvent
	}
	return []byte(e.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Event) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
