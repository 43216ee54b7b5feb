// Package relay is the server-mediated presence channel: a websocket room
// server with a presence roster, and the client participants dial it with.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/livecanvas/internal/presence"
	"github.com/haasonsaas/livecanvas/internal/transport"
)

const (
	maxFrameBytes   = 1 << 20
	sendBufferSize  = 64
	pongWait        = 45 * time.Second
	pingPeriod      = 15 * time.Second
	writeWait       = 10 * time.Second
	maxRoomNameSize = 128
)

// ServerConfig configures a relay server.
type ServerConfig struct {
	PresenceTimeout time.Duration
	SweepInterval   time.Duration
	Logger          *slog.Logger
	Metrics         *Metrics
}

// Server fans envelopes out to every other connection in the same room and
// keeps the authoritative presence roster per room.
type Server struct {
	logger          *slog.Logger
	metrics         *Metrics
	upgrader        websocket.Upgrader
	presenceTimeout time.Duration
	sweepInterval   time.Duration

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	name    string
	roster  *presence.Roster
	clients map[*session]struct{}
}

type session struct {
	server *Server
	room   *room
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	id     string

	participant atomic.Value // string
}

// NewServer creates a relay server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:          logger.With("component", "relay"),
		metrics:         cfg.Metrics,
		presenceTimeout: cfg.PresenceTimeout,
		sweepInterval:   cfg.SweepInterval,
		rooms:           make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Mount registers the relay routes on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms/{room}/ws", s.handleWS)
	mux.HandleFunc("GET /rooms/{room}/presence", s.handlePresence)
}

// Run sweeps stale participants until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep drops participants not seen within the presence timeout and
// rebroadcasts the roster of every affected room.
func (s *Server) Sweep() {
	s.mu.RLock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	for _, r := range rooms {
		if gone := r.roster.Sweep(s.presenceTimeout); len(gone) > 0 {
			s.logger.Info("presence timed out", "room", r.name, "participants", gone)
			s.broadcastPresence(r)
		}
	}
}

// Participants returns the roster of a room.
func (s *Server) Participants(roomName string) []presence.Participant {
	s.mu.RLock()
	r := s.rooms[roomName]
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.roster.List()
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	list := s.Participants(r.PathValue("room"))
	if list == nil {
		list = []presence.Participant{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list) //nolint:errcheck
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomName := strings.TrimSpace(r.PathValue("room"))
	if roomName == "" || len(roomName) > maxRoomNameSize {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
	sess.participant.Store("")
	s.join(roomName, sess)
	sess.run()
}

func (s *Server) join(roomName string, sess *session) {
	s.mu.Lock()
	r := s.rooms[roomName]
	if r == nil {
		r = &room{name: roomName, roster: presence.NewRoster(), clients: make(map[*session]struct{})}
		s.rooms[roomName] = r
		s.metrics.roomOpened()
	}
	r.clients[sess] = struct{}{}
	sess.room = r
	s.mu.Unlock()

	s.metrics.connectionOpened()
	s.logger.Debug("connection joined room", "room", roomName, "session", sess.id)
}

func (s *Server) leave(sess *session) {
	r := sess.room
	s.mu.Lock()
	delete(r.clients, sess)
	empty := len(r.clients) == 0
	if empty {
		delete(s.rooms, r.name)
		s.metrics.roomClosed()
	}
	s.mu.Unlock()
	s.metrics.connectionClosed()

	if id, _ := sess.participant.Load().(string); id != "" && r.roster.Leave(id) && !empty {
		s.broadcastPresence(r)
	}
}

// fanout sends raw to every session in the room except skip.
func (s *Server) fanout(r *room, raw []byte, skip *session) {
	s.mu.RLock()
	targets := make([]*session, 0, len(r.clients))
	for c := range r.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(raw)
	}
}

func (s *Server) broadcastPresence(r *room) {
	env, err := transport.NewEnvelope(transport.KindPresenceSync, "relay", r.roster.List())
	if err != nil {
		s.logger.Warn("encode presence", "room", r.name, "error", err)
		return
	}
	env.Room = r.name
	raw, err := transport.Encode(env)
	if err != nil {
		return
	}
	s.fanout(r, raw, nil)
}

func (c *session) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *session) close() {
	c.cancel()
	_ = c.conn.Close()
	c.server.leave(c)
}

func (c *session) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		if id, _ := c.participant.Load().(string); id != "" {
			c.room.roster.Heartbeat(id)
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		if err := c.handleFrame(data); err != nil {
			c.server.metrics.frameDropped()
			c.server.logger.Warn("dropping relay frame", "room", c.room.name, "session", c.id, "error", err)
		}
	}
}

func (c *session) handleFrame(data []byte) error {
	env, err := transport.Decode(data)
	if err != nil {
		return err
	}
	env.Room = c.room.name

	switch env.Kind {
	case transport.KindPresenceTrack:
		var p presence.Participant
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("presence-track without participant id")
		}
		c.participant.Store(p.ID)
		c.room.roster.Track(p)
		c.server.broadcastPresence(c.room)
		return nil
	case transport.KindPresenceLeave:
		if id, _ := c.participant.Load().(string); id != "" && c.room.roster.Leave(id) {
			c.participant.Store("")
			c.server.broadcastPresence(c.room)
		}
		return nil
	case transport.KindPresenceSync:
		return fmt.Errorf("presence-sync is server-originated")
	}

	raw, err := transport.Encode(env)
	if err != nil {
		return err
	}
	c.server.metrics.frameRelayed(string(env.Kind))
	c.server.fanout(c.room, raw, c)
	return nil
}

func (c *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *session) enqueue(raw []byte) {
	select {
	case <-c.ctx.Done():
	case c.send <- raw:
	default:
		c.server.metrics.frameDropped()
		c.server.logger.Warn("relay send buffer full", "room", c.room.name, "session", c.id)
	}
}
