package realtime

import (
	"errors"
	"time"

	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/queue"
	"github.com/rickgao/projectlink/internal/request"
	"github.com/rickgao/projectlink/internal/room"
)

// Errors
var (
	ErrLocalEvent = errors.New("local events cannot be emitted")
)

// FailedMessage is the user-facing text carried by connection_failed.
const FailedMessage = "connection lost, please retry"

// Config configures every component of a Client.
type Config struct {
	Transport connection.ClientConfig
	Reconnect connection.ManagerConfig
	Queue     queue.Config
	Rooms     room.Config
	Requests  request.Config
}

// DefaultConfig returns defaults for every component. Transport.URL must
// still be set.
func DefaultConfig() Config {
	return Config{
		Transport: connection.DefaultClientConfig(),
		Reconnect: connection.DefaultManagerConfig(),
		Queue:     queue.DefaultConfig(),
		Rooms:     room.DefaultConfig(),
		Requests:  request.DefaultConfig(),
	}
}

// ConnectionInfo is a snapshot of the client.
type ConnectionInfo struct {
	State           connection.State
	Attempts        int
	SessionID       string
	ConnectedAt     time.Time
	Rooms           []string // join order
	Project         string
	QueueDepth      int
	PendingRequests int
	ProtocolErrors  int64
}
