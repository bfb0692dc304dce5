package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/projectlink/internal/version"
)

// Conn is one established transport connection.
type Conn interface {
	// ID returns the session identity assigned on connect.
	ID() string

	// Send writes one frame.
	Send(data []byte) error

	// Receive blocks until the next frame arrives or the connection fails.
	Receive() ([]byte, error)

	// Close gracefully closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// wsDialer dials gorilla/websocket connections.
type wsDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a WebSocket Dialer.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection.
func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	for k, v := range d.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Accept", "application/json")
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	id := ""
	if resp != nil {
		id = resp.Header.Get(SessionHeader)
	}
	if id == "" {
		id = uuid.NewString()
	}

	c := &wsConn{
		cfg:        d.cfg,
		logger:     d.logger.With("session_id", id),
		ws:         ws,
		id:         id,
		lastPingAt: time.Now(),
		done:       make(chan struct{}),
	}
	if d.cfg.ReadLimit > 0 {
		ws.SetReadLimit(d.cfg.ReadLimit)
	}

	// Server sends ping, we respond with pong
	ws.SetPingHandler(func(data string) error {
		c.touch()
		return ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	if d.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", d.cfg.URL)

	return c, nil
}

// wsConn implements Conn over a gorilla/websocket connection.
type wsConn struct {
	cfg    ClientConfig
	logger *slog.Logger
	ws     *websocket.Conn
	id     string

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time
	stale      bool
	closed     bool
	done       chan struct{}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale, closed := c.stale, c.closed
			c.mu.Unlock()

			switch {
			case stale:
				return nil, ErrStaleConnection
			case closed:
				return nil, ErrAlreadyClosed
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig; the socket is done
				return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, c.cfg.ReadLimit)
			}
			return nil, err
		}
		// Binary frames are not part of the protocol
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", msgType)
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// heartbeatLoop pings the server and closes the socket when it goes quiet,
// which unblocks Receive with ErrStaleConnection.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.mu.Lock()
				c.stale = true
				c.mu.Unlock()
				c.ws.Close()
				return
			}
		}
	}
}
