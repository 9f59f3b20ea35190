// Package wstest provides an in-process orchestrator WebSocket endpoint for tests.
package wstest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	ws "github.com/kandev/execwatch/pkg/websocket"
)

// Server answers requests through a dispatcher and can push notifications
// to every connected client.
type Server struct {
	*httptest.Server
	Dispatcher *ws.Dispatcher

	mu       sync.Mutex
	conns    map[*websocket.Conn]*sync.Mutex
	accepted int
}

// NewServer starts a server.
func NewServer() *Server {
	s := &Server{
		Dispatcher: ws.NewDispatcher(),
		conns:      make(map[*websocket.Conn]*sync.Mutex),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		writeMu := &sync.Mutex{}
		s.mu.Lock()
		s.conns[conn] = writeMu
		s.accepted++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			var msg ws.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			resp, err := s.Dispatcher.Dispatch(context.Background(), &msg)
			if err != nil {
				resp, _ = ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
			}
			if resp == nil {
				continue
			}
			writeMu.Lock()
			err = conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted returns the number of connections accepted since start.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Notify pushes a notification to every client.
func (s *Server) Notify(action string, payload interface{}) error {
	msg, err := ws.NewNotification(action, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, writeMu := range s.conns {
		writeMu.Lock()
		err := conn.WriteJSON(msg)
		writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
