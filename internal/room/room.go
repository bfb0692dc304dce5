// Package room tracks the rooms a client has joined on the shared
// connection and the active project context that scopes outbound events.
//
// Rooms are replayed in their original join order after every reconnect.
// A project switch is applied optimistically and then confirmed or
// reverted once the server answers.
package room

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/rickgao/projectlink/internal/clock"
	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/event"
)

// Errors
var (
	ErrEmptyName      = errors.New("room name is empty")
	ErrSwitchTimeout  = errors.New("project switch not acknowledged")
	ErrSwitchRejected = errors.New("project switch rejected")
)

// ProjectPrefix is prepended to a project id to form its room name.
const ProjectPrefix = "project_"

// ForProject returns the room name for a project.
func ForProject(projectID string) string {
	return ProjectPrefix + projectID
}

// Transport is the outbound side the room manager talks through.
type Transport interface {
	// Send writes immediately and fails with connection.ErrNotConnected
	// when there is no connection.
	Send(ev event.Event, data event.Payload) error

	// Emit writes immediately when connected and queues otherwise.
	Emit(ev event.Event, data event.Payload) error
}

// Room is a joined room.
type Room struct {
	Name     string
	Metadata map[string]any
	Joined   bool
	JoinedAt time.Time
}

// SwitchPhase is the lifecycle of an optimistic project switch.
type SwitchPhase int

const (
	SwitchPending   SwitchPhase = iota // applied locally, awaiting the server
	SwitchConfirmed                    // server acknowledged
	SwitchReverted                     // server rejected or timed out, previous context restored
	SwitchKept                         // server rejected or timed out, optimistic context kept
)

func (p SwitchPhase) String() string {
	switch p {
	case SwitchPending:
		return "pending"
	case SwitchConfirmed:
		return "confirmed"
	case SwitchReverted:
		return "reverted"
	case SwitchKept:
		return "kept"
	default:
		return "unknown"
	}
}

// Switch records one project context change.
type Switch struct {
	From      string
	To        string
	Phase     SwitchPhase
	StartedAt time.Time
	Err       error
}

// Config holds room manager configuration.
type Config struct {
	SwitchTimeout   time.Duration // How long a switch may stay pending (default: 10s)
	RevertOnFailure bool          // Restore the previous context when a switch fails (default: false)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SwitchTimeout: 10 * time.Second,
	}
}

// Manager owns the joined-room set and the project context.
type Manager struct {
	cfg       Config
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	rooms       map[string]*Room
	order       []string // join order
	project     string
	pending     *Switch
	switchTimer clock.Timer
	last        Switch
}

// NewManager creates an empty room manager.
func NewManager(cfg Config, transport Transport, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:       cfg,
		transport: transport,
		clock:     clk,
		logger:    logger,
		rooms:     make(map[string]*Room),
	}
}

// JoinRoom marks name as joined and tells the server. Joining a room that
// is already joined changes nothing locally but is still sent. While
// disconnected nothing is sent; the join goes out with RejoinAll. The
// manager keeps its own copy of metadata.
func (m *Manager) JoinRoom(name string, metadata map[string]any) error {
	if name == "" {
		return ErrEmptyName
	}

	m.mu.Lock()
	r, ok := m.rooms[name]
	if !ok {
		r = &Room{
			Name:     name,
			Metadata: maps.Clone(metadata),
			Joined:   true,
			JoinedAt: m.clock.Now(),
		}
		m.rooms[name] = r
		m.order = append(m.order, name)
	}
	payload := joinPayload(r)
	m.mu.Unlock()

	if ok {
		m.logger.Debug("room already joined", "room", name)
	}
	return m.sendIfConnected(event.JoinRoom, payload)
}

// LeaveRoom forgets name and tells the server when connected.
func (m *Manager) LeaveRoom(name string) error {
	m.mu.Lock()
	_, ok := m.rooms[name]
	if ok {
		delete(m.rooms, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.sendIfConnected(event.LeaveRoom, event.Payload{event.KeyRoom: name})
}

func (m *Manager) sendIfConnected(ev event.Event, payload event.Payload) error {
	err := m.transport.Send(ev, payload)
	if errors.Is(err, connection.ErrNotConnected) {
		m.logger.Debug("deferred until reconnect", "event", ev, "room", payload[event.KeyRoom])
		return nil
	}
	return err
}

// RejoinAll sends a join for every joined room in original join order and
// returns how many were sent.
func (m *Manager) RejoinAll() (int, error) {
	rooms := m.Rooms()

	for i, r := range rooms {
		payload := joinPayload(&r)
		if err := m.transport.Send(event.JoinRoom, payload); err != nil {
			return i, fmt.Errorf("rejoin %s: %w", r.Name, err)
		}
	}

	if len(rooms) > 0 {
		m.logger.Info("rejoined rooms", "count", len(rooms))
	}
	return len(rooms), nil
}

func joinPayload(r *Room) event.Payload {
	p := event.Payload{event.KeyRoom: r.Name}
	if len(r.Metadata) > 0 {
		p[event.KeyMetadata] = r.Metadata
	}
	return p
}

// Rooms returns copies of the joined rooms in join order.
func (m *Manager) Rooms() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Room, 0, len(m.order))
	for _, name := range m.order {
		r := *m.rooms[name]
		r.Metadata = maps.Clone(r.Metadata)
		out = append(out, r)
	}
	return out
}

// Joined reports whether name is currently joined.
func (m *Manager) Joined(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[name]
	return ok
}

// SetProjectContext switches the active project and returns the previous
// one. The switch is applied before the server answers: the context flips,
// project_switch is emitted, and the client moves from the old project room
// to the new one. The switch stays pending until ConfirmProjectSwitch or
// RevertProjectSwitch, or until SwitchTimeout elapses.
func (m *Manager) SetProjectContext(projectID string) (string, error) {
	m.mu.Lock()
	prev := m.project
	if projectID == prev {
		m.mu.Unlock()
		return prev, nil
	}

	m.stopSwitchTimerLocked()
	m.project = projectID
	m.pending = &Switch{
		From:      prev,
		To:        projectID,
		Phase:     SwitchPending,
		StartedAt: m.clock.Now(),
	}
	if m.cfg.SwitchTimeout > 0 && projectID != "" {
		m.switchTimer = m.clock.AfterFunc(m.cfg.SwitchTimeout, func() {
			m.RevertProjectSwitch(projectID, ErrSwitchTimeout)
		})
	}
	m.mu.Unlock()

	m.logger.Info("switching project", "from", prev, "to", projectID)

	err := m.transport.Emit(event.ProjectSwitch, event.Payload{
		event.KeyFrom:        prev,
		event.KeyTo:          projectID,
		event.KeyProjectName: projectID,
	})
	if err != nil {
		return prev, fmt.Errorf("emit project switch: %w", err)
	}

	if err := m.moveProjectRoom(prev, projectID); err != nil {
		return prev, err
	}
	return prev, nil
}

func (m *Manager) moveProjectRoom(from, to string) error {
	if from != "" {
		if err := m.LeaveRoom(ForProject(from)); err != nil {
			return err
		}
	}
	if to != "" {
		return m.JoinRoom(ForProject(to), nil)
	}
	return nil
}

// ConfirmProjectSwitch settles a pending switch to projectID. It reports
// false if no such switch is pending.
func (m *Manager) ConfirmProjectSwitch(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.To != projectID {
		return false
	}
	m.stopSwitchTimerLocked()
	m.pending.Phase = SwitchConfirmed
	m.last = *m.pending
	m.pending = nil

	m.logger.Debug("project switch confirmed", "project", projectID)
	return true
}

// RevertProjectSwitch settles a failed switch to projectID. With
// RevertOnFailure the previous context and project room are restored;
// otherwise the optimistic context is kept and the failure is only
// recorded. It reports false if no such switch is pending.
func (m *Manager) RevertProjectSwitch(projectID string, cause error) bool {
	m.mu.Lock()
	if m.pending == nil || m.pending.To != projectID {
		m.mu.Unlock()
		return false
	}
	m.stopSwitchTimerLocked()

	sw := *m.pending
	sw.Err = cause
	m.pending = nil

	if !m.cfg.RevertOnFailure {
		sw.Phase = SwitchKept
		m.last = sw
		m.mu.Unlock()
		m.logger.Warn("project switch failed, keeping new context",
			"project", projectID,
			"error", cause,
		)
		return true
	}

	sw.Phase = SwitchReverted
	m.last = sw
	m.project = sw.From
	m.mu.Unlock()

	m.logger.Warn("project switch failed, reverting",
		"from", sw.To,
		"to", sw.From,
		"error", cause,
	)
	if err := m.moveProjectRoom(sw.To, sw.From); err != nil {
		m.logger.Warn("restore project room", "error", err)
	}
	return true
}

func (m *Manager) stopSwitchTimerLocked() {
	if m.switchTimer != nil {
		m.switchTimer.Stop()
		m.switchTimer = nil
	}
}

// ProjectContext returns the active project id.
func (m *Manager) ProjectContext() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project
}

// PendingSwitch returns the unsettled switch, if any.
func (m *Manager) PendingSwitch() (Switch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Switch{}, false
	}
	return *m.pending, true
}

// LastSwitch returns the most recently settled switch.
func (m *Manager) LastSwitch() Switch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Scope returns a copy of payload with the active project and its room
// added, unless the caller already set them.
func (m *Manager) Scope(payload event.Payload) event.Payload {
	project := m.ProjectContext()

	out := payload.Clone()
	if project == "" {
		return out
	}
	if _, ok := out[event.KeyProjectName]; !ok {
		out[event.KeyProjectName] = project
	}
	if _, ok := out[event.KeyRoom]; !ok {
		out[event.KeyRoom] = ForProject(project)
	}
	return out
}
