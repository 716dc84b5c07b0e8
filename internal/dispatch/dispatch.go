// Package dispatch delivers out-of-band notifications to users: over a
// live websocket when the user has one open, otherwise over an HTTP push
// endpoint.
package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoSession reports that the user has no open websocket.
var ErrNoSession = errors.New("no websocket session")

// Notification is the wire payload sent to connected clients.
type Notification struct {
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// WSSession is one connected user. Writes are serialized; gorilla
// connections do not tolerate concurrent writers.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry tracks the open websocket per user. A reconnect replaces the
// previous session.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) Send(userID string, n Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(n)
}

// Connected reports how many users currently hold a session.
func (r *WSRegistry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
