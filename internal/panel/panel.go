// Package panel exposes the bot over HTTP: a WebSocket feed of status
// snapshots plus a small command vocabulary for driving the runner from
// a browser panel.
package panel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// Commander is the slice of the runner the panel is allowed to drive.
// Every call queues a command; nothing executes until the next tick.
type Commander interface {
	Start()
	Stop()
	Pause()
	Resume()
	ForceIndex(idx int, sticky bool)
	SetIndex(idx int)
	Seek(delta int, sticky bool)
	Hold()
	Release()
}

// StatusFunc supplies the payload served on /status.
type StatusFunc func() any

type commandMessage struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Delta  int    `json:"delta"`
	Sticky bool   `json:"sticky"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// push delivers data without ever blocking the tick loop. A slow panel
// keeps only the freshest snapshot.
func (c *client) push(data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writeLoop() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}

// Server owns the live panel connections.
type Server struct {
	cmd      Commander
	status   StatusFunc
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*client]struct{}
}

// NewServer wires a panel server to the given commander. status may be
// nil, in which case /status answers 404.
func NewServer(cmd Commander, status StatusFunc, log zerolog.Logger) *Server {
	return &Server{
		cmd:    cmd,
		status: status,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subs: make(map[*client]struct{}),
	}
}

// Handler returns the panel's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	return mux
}

// Panels reports the number of connected panel clients.
func (s *Server) Panels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Broadcast marshals v once and pushes it to every connected panel.
func (s *Server) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal panel broadcast")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		c.push(data)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status unavailable", http.StatusNotFound)
		return
	}
	data, err := json.Marshal(s.status())
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Panel upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 1)}
	s.mu.Lock()
	s.subs[c] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Int("panels", n).Msg("Panel connected")

	go c.writeLoop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg commandMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Debug().Err(err).Msg("Discarding malformed panel message")
			continue
		}
		s.dispatch(msg)
	}

	s.unregister(c)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.subs[c]; ok {
		delete(s.subs, c)
		close(c.send)
	}
	n := len(s.subs)
	s.mu.Unlock()
	s.log.Info().Int("panels", n).Msg("Panel disconnected")
}

func (s *Server) dispatch(msg commandMessage) {
	switch msg.Type {
	case "start":
		s.cmd.Start()
	case "stop":
		s.cmd.Stop()
	case "pause":
		s.cmd.Pause()
	case "resume":
		s.cmd.Resume()
	case "force_index":
		s.cmd.ForceIndex(msg.Index, msg.Sticky)
	case "set_index":
		s.cmd.SetIndex(msg.Index)
	case "seek":
		s.cmd.Seek(msg.Delta, msg.Sticky)
	case "hold":
		s.cmd.Hold()
	case "release":
		s.cmd.Release()
	default:
		s.log.Debug().Str("type", msg.Type).Msg("Unknown panel command")
	}
}
