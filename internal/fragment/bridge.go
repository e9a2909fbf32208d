package fragment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types exchanged with browser clients
const (
	TypeHello      = "hello"
	TypeHashChange = "hashchange"
	TypeReplace    = "replace"
	TypeEvent      = "event"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	maxReadBytes = 64 << 10
)

// Message is one websocket frame
type Message struct {
	Type     string          `json:"type"`
	Session  string          `json:"session,omitempty"`
	Fragment string          `json:"fragment,omitempty"`
	Event    string          `json:"event,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Handler is called with every fragment a client reports
type Handler func(fragment string)

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Bridge is a Location backed by connected browser clients. Clients report
// hashchange events and receive replace instructions and app events.
type Bridge struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	fragment string
	handler  Handler
	sessions map[string]*session
}

// NewBridge creates a bridge with no clients
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   logger.With("component", "bridge"),
		sessions: make(map[string]*session),
	}
}

// SetHandler sets the callback for client-reported fragments
func (b *Bridge) SetHandler(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Fragment returns the last fragment reported or replaced
func (b *Bridge) Fragment() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fragment
}

// Replace tells every client to replace its fragment
func (b *Bridge) Replace(fragment string) {
	fragment = normalize(fragment)
	b.mu.Lock()
	b.fragment = fragment
	b.mu.Unlock()
	b.broadcast(Message{Type: TypeReplace, Fragment: fragment})
}

// Emit sends an app event to every client
func (b *Bridge) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to encode event", "event", event, "error", err)
		return
	}
	b.broadcast(Message{Type: TypeEvent, Event: event, Payload: data})
}

// Sessions returns the number of connected clients
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Bridge) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		select {
		case s.send <- data:
		default:
			b.logger.Warn("client too slow, dropping", "session", id)
			b.dropLocked(id)
		}
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadBytes)

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	b.mu.Lock()
	b.sessions[s.id] = s
	hello, _ := json.Marshal(Message{Type: TypeHello, Session: s.id, Fragment: b.fragment})
	s.send <- hello
	b.mu.Unlock()

	b.logger.Debug("client connected", "session", s.id)
	go b.writeLoop(s)
	b.readLoop(s)
}

// readLoop processes client messages
func (b *Bridge) readLoop(s *session) {
	defer func() {
		b.mu.Lock()
		b.dropLocked(s.id)
		b.mu.Unlock()
		b.logger.Debug("client disconnected", "session", s.id)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("ignoring malformed message", "session", s.id, "error", err)
			continue
		}
		if msg.Type != TypeHashChange {
			continue
		}

		fragment := normalize(msg.Fragment)
		b.mu.Lock()
		b.fragment = fragment
		h := b.handler
		b.mu.Unlock()

		if h != nil {
			h(fragment)
		}
	}
}

// writeLoop is the only writer of s.conn
func (b *Bridge) writeLoop(s *session) {
	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.conn.Close()
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
}

func (b *Bridge) dropLocked(id string) {
	s, ok := b.sessions[id]
	if !ok {
		return
	}
	delete(b.sessions, id)
	close(s.send)
}

// Close disconnects every client
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.sessions {
		b.dropLocked(id)
	}
}
