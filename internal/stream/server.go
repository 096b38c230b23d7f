package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 50 * time.Second
	maxMessageSize = 1024
)

// Server upgrades HTTP requests into session subscriptions on a Hub.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewServer(h *Hub) *Server {
	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeSession upgrades the request and streams events for sessionID until the
// client disconnects. Callers check access to the session first.
func (s *Server) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket for session %s: %v", sessionID, err)
		return err
	}
	ws.SetReadLimit(maxMessageSize)

	conn := s.hub.newConnection(ws, sessionID)
	s.hub.Register(conn)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump only drains control frames; subscribers do not send commands.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", conn.SessionID, err)
			}
			return
		}
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write event to subscriber %s: %v", conn.ID, err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
