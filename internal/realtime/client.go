package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/projectlink/internal/clock"
	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/event"
	"github.com/rickgao/projectlink/internal/queue"
	"github.com/rickgao/projectlink/internal/request"
	"github.com/rickgao/projectlink/internal/room"
	"github.com/rickgao/projectlink/internal/router"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the time source for backoff, queue staleness and
// request timeouts.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d connection.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithRand sets the backoff jitter source. It must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(c *Client) {
		c.rand = f
	}
}

// Client is one realtime session. Create it with New; the zero value is
// not usable.
type Client struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock
	dialer connection.Dialer
	rand   func() float64

	conn     *connection.Manager
	router   *router.Router
	events   *router.Serial
	replies  *router.Router // correlator responses, dispatched on the read goroutine
	rooms    *room.Manager
	queue    *queue.Queue
	requests *request.Correlator

	// emitMu serializes every outbound frame. ready is set once rooms are
	// rejoined and the backlog flushed after CONNECTED, and cleared on every
	// other transition; emits are queued until then. syncing covers the
	// rejoin itself, when only room joins may be sent.
	emitMu  sync.Mutex
	ready   bool
	syncing bool

	failMu       sync.Mutex
	failNotified bool

	protocolErrors atomic.Int64
}

// New creates a disconnected Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{cfg: cfg}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.dialer == nil {
		c.dialer = connection.NewDialer(cfg.Transport, c.logger.With("component", "transport"))
	}

	connOpts := []connection.ManagerOption{connection.WithClock(c.clock)}
	if c.rand != nil {
		connOpts = append(connOpts, connection.WithRand(c.rand))
	}

	c.conn = connection.NewManager(cfg.Reconnect, c.dialer, c.logger.With("component", "connection"), connOpts...)
	c.router = router.New(c.logger.With("component", "router"),
		router.WithEmptyHook(func(ev event.Event) {
			c.logger.Debug("no subscribers left", "event", ev)
		}))
	c.events = router.NewSerial(c.router)
	c.replies = router.New(c.logger.With("component", "replies"))
	c.queue = queue.New(cfg.Queue, c.clock, c.logger.With("component", "queue"))
	c.rooms = room.NewManager(cfg.Rooms, roomTransport{c}, c.clock, c.logger.With("component", "rooms"))
	c.requests = request.New(cfg.Requests, c.Emit, c.replies, c.clock, c.logger.With("component", "requests"))

	c.conn.SetFrameHandler(c.handleFrame)
	c.conn.OnStateChange(c.handleStateChange)

	c.router.On(event.ProjectSwitched, c.onProjectSwitched)
	c.router.On(event.ProjectSwitchFailed, c.onProjectSwitchFailed)

	return c
}

// Connect opens the connection. The first attempt runs before Connect
// returns; failures are retried in the background until the attempt
// budget is spent, at which point connection_failed is dispatched.
func (c *Client) Connect(ctx context.Context) {
	c.conn.Connect(ctx)
}

// Disconnect closes the connection and cancels any pending reconnect.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// OnStateChange registers a connection state listener. Listeners run
// synchronously on the connection goroutine and must not block; use On
// with the local connect and disconnect events for work that waits.
func (c *Client) OnStateChange(fn func(connection.StateChange)) (remove func()) {
	return c.conn.OnStateChange(fn)
}

// On subscribes h to ev. Handlers run on a dispatch goroutine in the
// order events arrived, and may call EmitAndWait.
func (c *Client) On(ev event.Event, h router.Handler) router.Subscription {
	return c.router.On(ev, h)
}

// Once subscribes h to the next ev only.
func (c *Client) Once(ev event.Event, h router.Handler) router.Subscription {
	return c.router.Once(ev, h)
}

// Off removes a subscription.
func (c *Client) Off(sub router.Subscription) {
	c.router.Off(sub)
}

// Emit sends ev to the server, or queues it while the connection is down.
// Chat and status events are scoped to the active project. The payload is
// encoded up front so an unencodable payload is reported here rather than
// at flush time.
func (c *Client) Emit(ev event.Event, data event.Payload) error {
	if ev.Local() {
		return fmt.Errorf("%w: %s", ErrLocalEvent, ev)
	}
	if scoped(ev) {
		data = c.rooms.Scope(data)
	}

	frame, err := event.Encode(ev, data)
	if err != nil {
		return err
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if !c.ready || c.queue.Len() > 0 {
		c.queue.Enqueue(ev, data)
		c.logger.Debug("queued outbound event", "event", ev, "depth", c.queue.Len())
		if c.ready {
			c.flushLocked()
		}
		return nil
	}

	if err := c.conn.Send(frame); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			c.queue.Enqueue(ev, data)
			return nil
		}
		return err
	}
	return nil
}

func scoped(ev event.Event) bool {
	switch ev {
	case event.ChatCommand, event.ChatMessage, event.RequestStatus:
		return true
	}
	return false
}

// sendNow writes ev immediately, bypassing the queue. Before the client is
// ready it only goes through during the rejoin.
func (c *Client) sendNow(ev event.Event, data event.Payload) error {
	frame, err := event.Encode(ev, data)
	if err != nil {
		return err
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.ready && !c.syncing {
		return connection.ErrNotConnected
	}
	return c.conn.Send(frame)
}

// flushLocked drains the queue onto the connection. Must be called with
// emitMu held.
func (c *Client) flushLocked() {
	_, err := c.queue.Flush(func(m queue.Message) error {
		frame, err := event.Encode(m.Event, m.Payload)
		if err != nil {
			c.logger.Warn("dropping unencodable queued event", "event", m.Event, "error", err)
			return nil
		}
		return c.conn.Send(frame)
	})
	if err != nil {
		c.logger.Warn("queue flush stopped", "error", err)
	}
}

// JoinRoom joins a room. While offline the join is sent on reconnect.
func (c *Client) JoinRoom(name string, metadata map[string]any) error {
	return c.rooms.JoinRoom(name, metadata)
}

// LeaveRoom leaves a room.
func (c *Client) LeaveRoom(name string) error {
	return c.rooms.LeaveRoom(name)
}

// SetProjectContext switches the active project and returns the previous
// one. The switch takes effect immediately.
func (c *Client) SetProjectContext(projectID string) (string, error) {
	return c.rooms.SetProjectContext(projectID)
}

// ProjectContext returns the active project.
func (c *Client) ProjectContext() string {
	return c.rooms.ProjectContext()
}

// LastSwitch returns the most recently settled project switch.
func (c *Client) LastSwitch() room.Switch {
	return c.rooms.LastSwitch()
}

// EmitAndWait emits ev and waits for responseEvent. See
// request.Correlator.EmitAndWait.
func (c *Client) EmitAndWait(ctx context.Context, ev event.Event, data event.Payload, responseEvent event.Event, timeout time.Duration) (event.Payload, error) {
	return c.requests.EmitAndWait(ctx, ev, data, responseEvent, timeout)
}

// ConnectionInfo returns a snapshot of the client.
func (c *Client) ConnectionInfo() ConnectionInfo {
	info := c.conn.Info()

	rooms := c.rooms.Rooms()
	names := make([]string, 0, len(rooms))
	for _, r := range rooms {
		names = append(names, r.Name)
	}

	return ConnectionInfo{
		State:           info.State,
		Attempts:        info.Attempts,
		SessionID:       info.SessionID,
		ConnectedAt:     info.ConnectedAt,
		Rooms:           names,
		Project:         c.rooms.ProjectContext(),
		QueueDepth:      c.queue.Len(),
		PendingRequests: c.requests.Pending(),
		ProtocolErrors:  c.protocolErrors.Load(),
	}
}

// QueueStats returns outbound queue statistics.
func (c *Client) QueueStats() queue.Stats {
	return c.queue.Stats()
}

// RouterStats returns dispatch statistics.
func (c *Client) RouterStats() router.Stats {
	return c.router.Stats()
}

// handleFrame decodes one inbound frame and dispatches it. It runs on the
// read goroutine: pending requests are settled inline, subscribers are
// served by the serial dispatcher.
func (c *Client) handleFrame(frame []byte) {
	env, err := event.Decode(frame)
	if err == nil && env.Event.Local() {
		err = &event.ProtocolErr{Frame: frame, Err: fmt.Errorf("server sent local event %s", env.Event)}
	}
	if err != nil {
		c.protocolError(err, frame)
		return
	}

	if c.replies.HandlerCount(env.Event) > 0 {
		c.replies.Dispatch(env.Event, env.Data.Clone())
	}
	c.events.Post(env.Event, env.Data)
}

// protocolError counts a bad inbound frame and reports it to subscribers.
func (c *Client) protocolError(err error, frame []byte) {
	c.protocolErrors.Add(1)
	c.logger.Warn("protocol error", "error", err, "frame_len", len(frame))
	c.events.Post(event.ProtocolError, event.Payload{
		"error": err.Error(),
		"frame": string(frame),
	})
}

func (c *Client) handleStateChange(ch connection.StateChange) {
	if ch.To != connection.StateConnected {
		c.emitMu.Lock()
		c.ready = false
		c.emitMu.Unlock()
	}

	switch ch.To {
	case connection.StateConnecting:
		if ch.From == connection.StateFailed {
			c.failMu.Lock()
			c.failNotified = false
			c.failMu.Unlock()
		}

	case connection.StateConnected:
		c.onConnected()

	case connection.StateDisconnected:
		if errors.Is(ch.Err, connection.ErrFrameTooLarge) {
			c.protocolError(ch.Err, nil)
		}
		if ch.From == connection.StateConnected {
			p := event.Payload{}
			if ch.Err != nil {
				p["reason"] = ch.Err.Error()
			}
			c.events.Post(event.Disconnect, p)
		}

	case connection.StateFailed:
		c.onFailed(ch)
	}
}

// onConnected rejoins rooms, flushes the queue, then announces connect.
// Emits made before the flush completes are queued behind the backlog.
func (c *Client) onConnected() {
	c.emitMu.Lock()
	c.ready = false
	c.syncing = true
	c.emitMu.Unlock()

	if _, err := c.rooms.RejoinAll(); err != nil {
		c.logger.Warn("rejoin interrupted", "error", err)
	}

	c.emitMu.Lock()
	c.syncing = false
	if c.conn.IsConnected() {
		c.flushLocked()
		c.ready = true
	}
	ready := c.ready
	c.emitMu.Unlock()

	if !ready {
		return
	}

	info := c.conn.Info()
	c.events.Post(event.Connect, event.Payload{
		"session_id": info.SessionID,
	})
}

// onFailed reports a spent retry budget once per failure.
func (c *Client) onFailed(ch connection.StateChange) {
	c.failMu.Lock()
	if c.failNotified {
		c.failMu.Unlock()
		return
	}
	c.failNotified = true
	c.failMu.Unlock()

	if n := c.requests.RejectAll(connection.ErrRetriesExhausted); n > 0 {
		c.logger.Info("rejected in-flight requests", "count", n)
	}

	c.events.Post(event.ConnectionFailed, event.Payload{
		event.KeyMessage: FailedMessage,
		"attempts":       ch.Attempt,
	})
}

func (c *Client) onProjectSwitched(p event.Payload) {
	id := switchTarget(p)
	if !c.rooms.ConfirmProjectSwitch(id) {
		c.logger.Debug("unexpected project switch ack", "project", id)
	}
}

func (c *Client) onProjectSwitchFailed(p event.Payload) {
	id := switchTarget(p)
	cause := room.ErrSwitchRejected
	if msg := p.String(event.KeyMessage); msg != "" {
		cause = fmt.Errorf("%w: %s", room.ErrSwitchRejected, msg)
	}
	c.rooms.RevertProjectSwitch(id, cause)
}

func switchTarget(p event.Payload) string {
	if id := p.String(event.KeyTo); id != "" {
		return id
	}
	return p.String(event.KeyProjectName)
}

// roomTransport lets the room manager send through the client.
type roomTransport struct {
	c *Client
}

func (t roomTransport) Send(ev event.Event, data event.Payload) error {
	return t.c.sendNow(ev, data)
}

func (t roomTransport) Emit(ev event.Event, data event.Payload) error {
	return t.c.Emit(ev, data)
}
