package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/event"
)

const helpText = "commands: /help, /rooms, /whoami"

// serverConfig configures the dev server.
type serverConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	DenyProjects map[string]bool // project switches to these ids are refused
}

// server is a minimal room-aware peer for the realtime client.
type server struct {
	cfg      serverConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time

	mu    sync.Mutex
	rooms map[string]map[*peer]struct{}
	peers map[*peer]struct{}
}

type peer struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
	rooms   map[string]struct{} // guarded by server.mu
}

func newServer(cfg serverConfig, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*peer]struct{}),
		peers: make(map[*peer]struct{}),
	}
}

// ServeHTTP upgrades the request and serves one peer until it disconnects.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	header := http.Header{}
	header.Set(connection.SessionHeader, id)

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	p := &peer{id: id, ws: ws, rooms: make(map[string]struct{})}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	logger := s.logger.With("session_id", id)
	logger.Info("peer connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(p, done)
	}

	defer func() {
		close(done)
		s.drop(p)
		ws.Close()
		logger.Info("peer disconnected")
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := event.Decode(frame)
		if err != nil {
			logger.Warn("bad frame", "error", err)
			s.send(p, event.Error, event.Payload{event.KeyMessage: err.Error()})
			continue
		}
		s.handle(p, env)
	}
}

func (s *server) pingLoop(p *peer, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *server) handle(p *peer, env event.Envelope) {
	data := env.Data
	reply := event.Payload{}
	if rid := data.String(event.KeyRequestID); rid != "" {
		reply[event.KeyRequestID] = rid
	}

	switch env.Event {
	case event.JoinRoom:
		name := data.String(event.KeyRoom)
		s.join(p, name)
		reply[event.KeyRoom] = name
		s.send(p, event.RoomJoined, reply)

	case event.LeaveRoom:
		name := data.String(event.KeyRoom)
		s.leave(p, name)
		reply[event.KeyRoom] = name
		s.send(p, event.RoomLeft, reply)

	case event.ProjectSwitch:
		to := data.String(event.KeyTo)
		reply[event.KeyTo] = to
		reply[event.KeyProjectName] = to
		if s.cfg.DenyProjects[to] {
			reply[event.KeyMessage] = "access denied"
			s.send(p, event.ProjectSwitchFailed, reply)
			return
		}
		s.send(p, event.ProjectSwitched, reply)

	case event.ChatMessage:
		name := data.String(event.KeyRoom)
		msg := data.Clone()
		msg[event.KeyFrom] = p.id
		for _, other := range s.members(name) {
			if other != p {
				s.send(other, event.ChatMessage, msg)
			}
		}

	case event.ChatCommand:
		reply[event.KeyMessage] = s.runCommand(p, data.String(event.KeyMessage))
		s.send(p, event.CommandResult, reply)

	case event.RequestStatus:
		s.mu.Lock()
		reply["clients"] = len(s.peers)
		reply["rooms"] = sortedKeys(p.rooms)
		s.mu.Unlock()
		reply["uptime"] = time.Since(s.started).Round(time.Second).String()
		s.send(p, event.Status, reply)

	default:
		reply[event.KeyMessage] = "unsupported event " + env.Event.String()
		s.send(p, event.Error, reply)
	}
}

func (s *server) runCommand(p *peer, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "empty command"
	}

	switch fields[0] {
	case "/help":
		return helpText
	case "/rooms":
		s.mu.Lock()
		defer s.mu.Unlock()
		return strings.Join(sortedKeys(p.rooms), ", ")
	case "/whoami":
		return p.id
	default:
		return "unknown command " + line
	}
}

func (s *server) join(p *peer, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[name]
	if !ok {
		members = make(map[*peer]struct{})
		s.rooms[name] = members
	}
	members[p] = struct{}{}
	p.rooms[name] = struct{}{}
}

func (s *server) leave(p *peer, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(p, name)
}

func (s *server) leaveLocked(p *peer, name string) {
	delete(p.rooms, name)
	if members, ok := s.rooms[name]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(s.rooms, name)
		}
	}
}

func (s *server) drop(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range p.rooms {
		s.leaveLocked(p, name)
	}
	delete(s.peers, p)
}

func (s *server) members(name string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.rooms[name]))
	for p := range s.rooms[name] {
		out = append(out, p)
	}
	return out
}

// roomCount returns how many rooms have at least one member.
func (s *server) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// sessionRooms returns the rooms joined by session id, sorted.
func (s *server) sessionRooms(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		if p.id == id {
			return sortedKeys(p.rooms)
		}
	}
	return nil
}

func (s *server) send(p *peer, ev event.Event, data event.Payload) {
	frame, err := event.Encode(ev, data)
	if err != nil {
		s.logger.Error("encode reply", "event", ev, "error", err)
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		p.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := p.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Debug("write failed", "session_id", p.id, "error", err)
	}
}

// healthHandler reports peer and room counts.
func (s *server) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		health := struct {
			Status string `json:"status"`
			Peers  int    `json:"peers"`
			Rooms  int    `json:"rooms"`
		}{
			Status: "healthy",
			Peers:  len(s.peers),
			Rooms:  len(s.rooms),
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
