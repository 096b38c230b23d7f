// Package stream pushes interview events to WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mockprep/interview-server/internal/core"
)

// Connection is one subscriber socket, bound to a single interview session.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// Hub fans interview events out to the connections subscribed to each session.
// It implements core.EventSink.
type Hub struct {
	connections map[string]*Connection
	// session id -> connection ids
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *sessionMessage
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *sessionMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.sessions = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()
			log.Printf("Subscriber %s joined session %s", conn.ID, conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if ids := h.sessions[conn.SessionID]; ids != nil {
					delete(ids, conn.ID)
					if len(ids) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Subscriber %s left session %s", conn.ID, conn.SessionID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.sessions[msg.sessionID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					log.Printf("WARN: subscriber %s buffer full, closing", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) newConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, 64),
	}
}

// Register and Unregister return immediately once the hub has stopped.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues an event for the session's subscribers. It never blocks:
// when the broadcast queue is full the event is dropped.
func (h *Hub) Publish(event core.Event) {
	if !h.HasSubscribers(event.SessionID) {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("WARN: failed to encode %s event for session %s: %v", event.Type, event.SessionID, err)
		return
	}
	select {
	case h.broadcast <- &sessionMessage{sessionID: event.SessionID, data: data}:
	default:
		log.Printf("WARN: event queue full, dropping %s event for session %s", event.Type, event.SessionID)
	}
}

// HasSubscribers reports whether any connection is watching sessionID.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes to the socket; gorilla connections allow one writer at a time.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}
