/*
 *
 * browser-perfbudget - performance budget checks driven by a real browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cdptest provides a scripted CDP websocket server for tests.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Message is a command received from the client.
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Handler answers a command. Without a handler a command gets an empty
// result.
type Handler func(c *Conn, m Message)

// Server is a fake browser endpoint.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	received []Message
	conns    []*Conn
}

// NewServer starts a server closed with the test.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	s := &Server{handlers: make(map[string]Handler)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Conn{ws: ws}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		s.serve(c)
	}))
	tb.Cleanup(s.Close)

	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/devtools/browser/fake"
}

// Handle registers h for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Received returns the commands received for method, or all of them when
// method is empty.
func (s *Server) Received(method string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.received {
		if method == "" || m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// CloseConnections drops every client connection.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.CloseConnections()
	s.srv.Close()
}

func (s *Server) serve(c *Conn) {
	defer c.Close()
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		if err := json.Unmarshal(buf, &m); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, m)
		h := s.handlers[m.Method]
		s.mu.Unlock()

		if h == nil {
			c.Reply(m, struct{}{})
			continue
		}
		h(c, m)
	}
}

// Conn is a client connection of the server.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *Conn) write(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteJSON(v)
}

// Reply answers m with result.
func (c *Conn) Reply(m Message, result any) {
	c.write(map[string]any{"id": m.ID, "sessionId": m.SessionID, "result": result})
}

// ReplyError answers m with a protocol error.
func (c *Conn) ReplyError(m Message, code int, message string) {
	c.write(map[string]any{
		"id": m.ID, "sessionId": m.SessionID,
		"error": map[string]any{"code": code, "message": message},
	})
}

// Event sends an event for sessionID.
func (c *Conn) Event(sessionID, method string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	c.write(msg)
}

// Close closes the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.Close()
}
