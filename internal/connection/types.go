package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrFrameTooLarge    = errors.New("inbound frame exceeds read limit")
)

// State is the lifecycle state of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StateChange describes one transition.
type StateChange struct {
	From    State
	To      State
	Attempt int   // Reconnect attempt counter after the transition
	Err     error // Cause of a DISCONNECTED or FAILED transition, nil otherwise
}

// Info is a snapshot of the connection.
type Info struct {
	State       State
	Attempts    int
	SessionID   string    // Identity assigned by the transport on connect
	ConnectedAt time.Time // Zero unless connected
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://example.com/ws)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // How often we send keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures reconnection.
type ManagerConfig struct {
	MaxAttempts        int           // Retries before FAILED; negative retries forever
	ReconnectBaseDelay time.Duration // Delay before the first retry
	ReconnectMaxDelay  time.Duration // Upper bound on the exponential delay
	Jitter             float64       // Extra random delay as a fraction of the computed delay
}

// DefaultManagerConfig returns the default 1s, 2s, 4s, 8s, 16s schedule.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxAttempts:        5,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  16 * time.Second,
		Jitter:             0.1,
	}
}

// SessionHeader is the handshake response header carrying the server
// assigned session identity.
const SessionHeader = "X-Session-Id"
