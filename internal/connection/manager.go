package connection

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/projectlink/internal/clock"
)

// FrameHandler receives inbound frames in transport order.
type FrameHandler func(frame []byte)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source used for backoff timers.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRand sets the jitter source. It must return values in [0, 1).
func WithRand(f func() float64) ManagerOption {
	return func(m *Manager) {
		m.rand = f
	}
}

// Manager owns the single transport connection of a client session.
type Manager struct {
	cfg    ManagerConfig
	dialer Dialer
	clock  clock.Clock
	rand   func() float64
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	gen         uint64 // bumped by Connect and Disconnect; stale work compares against it
	conn        Conn
	sessionID   string
	connectedAt time.Time
	retry       clock.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	onFrame     FrameHandler

	listenersMu sync.Mutex
	listeners   []*stateListener
}

type stateListener struct {
	fn func(StateChange)
}

// NewManager creates a Connection Manager in the DISCONNECTED state.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock.Real(),
		rand:   rand.Float64,
		logger: logger,
		state:  StateDisconnected,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetFrameHandler sets the receiver of inbound frames. Frames arriving
// while no handler is set are dropped.
func (m *Manager) SetFrameHandler(h FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = h
}

// OnStateChange registers a listener invoked on every transition. The
// returned function removes it.
func (m *Manager) OnStateChange(fn func(StateChange)) (remove func()) {
	l := &stateListener{fn: fn}

	m.listenersMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, x := range m.listeners {
			if x == l {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect opens the transport unless already connecting or connected.
// The first dial runs on the calling goroutine. Dial failures are not
// returned: they count as failed attempts and are retried with backoff.
// Cancelling ctx stops the connection cycle without a retry. Connect from
// FAILED keeps the attempt counter, so a resumed cycle that fails again
// returns to FAILED without further retries; only CONNECTED resets it.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}

	m.stopRetryLocked()
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	m.ctx, m.cancel = context.WithCancel(ctx)
	dialCtx := m.ctx

	change := m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	m.notify(change)
	m.dial(dialCtx, gen)
}

// Disconnect closes the connection on behalf of the user. Any pending
// retry is cancelled and no automatic reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopRetryLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil

	var changes []StateChange
	if m.state != StateDisconnected {
		changes = append(changes, m.setStateLocked(StateDisconnected, nil))
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("close on disconnect", "error", err)
		}
	}

	m.logger.Info("disconnected by user")
	m.notify(changes...)
}

// IsConnected reports whether the connection is currently CONNECTED.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Info returns a snapshot of the connection.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		State:    m.state,
		Attempts: m.attempts,
	}
	if m.state == StateConnected {
		info.SessionID = m.sessionID
		info.ConnectedAt = m.connectedAt
	}
	return info
}

// Send writes one frame. State is checked at call time, never cached.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Send(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Backoff returns the un-jittered delay before retry number attempt (1-based).
func (m *Manager) Backoff(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if m.cfg.ReconnectMaxDelay > 0 && delay >= m.cfg.ReconnectMaxDelay {
			return m.cfg.ReconnectMaxDelay
		}
	}
	if m.cfg.ReconnectMaxDelay > 0 && delay > m.cfg.ReconnectMaxDelay {
		return m.cfg.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) jittered(delay time.Duration) time.Duration {
	if m.cfg.Jitter <= 0 {
		return delay
	}
	return delay + time.Duration(m.rand()*m.cfg.Jitter*float64(delay))
}

// dial performs one connection attempt for cycle gen.
func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		changes := m.failLocked(ctx, gen, err)
		attempt := m.attempts
		m.mu.Unlock()
		m.logger.Debug("connect attempt failed", "attempt", attempt, "error", err)
		m.notify(changes...)
		return
	}

	m.conn = conn
	m.sessionID = conn.ID()
	m.connectedAt = m.clock.Now()
	m.attempts = 0
	change := m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	m.logger.Info("connected", "session_id", conn.ID())
	m.notify(change)

	go m.readLoop(gen, conn)
}

// readLoop hands frames to the frame handler until the connection fails.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			m.connectionLost(gen, conn, err)
			return
		}

		m.mu.Lock()
		current := gen == m.gen && m.conn == conn
		h := m.onFrame
		m.mu.Unlock()

		if !current {
			return
		}
		if h != nil {
			h(frame)
		}
	}
}

// connectionLost handles an unexpected close of a CONNECTED transport.
func (m *Manager) connectionLost(gen uint64, conn Conn, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	changes := m.failLocked(m.ctx, gen, cause)
	m.mu.Unlock()

	conn.Close()
	m.logger.Warn("connection lost", "error", cause)
	m.notify(changes...)
}

// failLocked records a failed attempt or lost connection and either
// schedules a retry or gives up. Must be called with mu held.
func (m *Manager) failLocked(ctx context.Context, gen uint64, cause error) []StateChange {
	m.attempts++
	changes := []StateChange{m.setStateLocked(StateDisconnected, cause)}

	if ctx != nil && ctx.Err() != nil {
		return changes
	}

	if m.cfg.MaxAttempts >= 0 && m.attempts > m.cfg.MaxAttempts {
		changes = append(changes, m.setStateLocked(StateFailed, ErrRetriesExhausted))
		m.logger.Error("connection failed, giving up",
			"attempts", m.attempts-1,
			"error", cause,
		)
		return changes
	}

	delay := m.jittered(m.Backoff(m.attempts))
	m.logger.Debug("scheduling reconnect",
		"attempt", m.attempts,
		"delay", delay,
	)
	m.retry = m.clock.AfterFunc(delay, func() {
		m.retryNow(gen)
	})
	return changes
}

// retryNow fires a scheduled retry if its cycle is still current.
func (m *Manager) retryNow(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	ctx := m.ctx
	change := m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", change.Attempt)
	m.notify(change)
	m.dial(ctx, gen)
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setStateLocked(to State, err error) StateChange {
	change := StateChange{
		From:    m.state,
		To:      to,
		Attempt: m.attempts,
		Err:     err,
	}
	m.state = to
	return change
}

// notify delivers changes to a snapshot of the listeners, in order.
func (m *Manager) notify(changes ...StateChange) {
	if len(changes) == 0 {
		return
	}

	m.listenersMu.Lock()
	listeners := make([]*stateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.Unlock()

	for _, c := range changes {
		for _, l := range listeners {
			l.fn(c)
		}
	}
}
