// Package socket implements the socket table: a two-way index over live
// browser connections, in the same connection-bookkeeping shape as
// internal/session's Table but simpler (no per-connection substructures to
// fan out on teardown).
package socket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is a live browser connection. Scope is the "N:" prefix unique to
// this socket within the service instance.
type Socket struct {
	Scope string
	Conn  *websocket.Conn

	mu     sync.Mutex
	closed bool

	// writeMu serializes writes: the ping loop and the dispatch goroutine
	// both write to the same connection.
	writeMu sync.Mutex
}

// Open reports whether the socket is still considered open.
func (s *Socket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Socket) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// WriteText sends a TEXT frame on the socket's underlying connection.
// Writes to an already-closed socket are silently dropped. Concurrent
// callers are serialized.
func (s *Socket) WriteText(b []byte) error {
	if !s.Open() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, b)
}

// Table holds every live Socket, indexed by connection (owning) and by
// scope (lookup only).
type Table struct {
	mu           sync.Mutex
	byConnection map[*websocket.Conn]*Socket
	byScope      map[string]*Socket
}

// NewTable constructs an empty socket table.
func NewTable() *Table {
	return &Table{
		byConnection: make(map[*websocket.Conn]*Socket),
		byScope:      make(map[string]*Socket),
	}
}

// Track allocates a new Socket for conn with the given scope and inserts it
// into both indexes.
func (t *Table) Track(conn *websocket.Conn, scope string) *Socket {
	s := &Socket{Scope: scope, Conn: conn}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConnection[conn] = s
	t.byScope[scope] = s
	return s
}

// Destroy removes a socket from both indexes and marks it closed. The
// caller is responsible for closing the underlying connection when that is
// appropriate: only service dispose closes the connection directly;
// ordinary teardown just forgets the socket.
func (t *Table) Destroy(s *Socket) {
	s.markClosed()
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byConnection, s.Conn)
	if existing, ok := t.byScope[s.Scope]; ok && existing == s {
		delete(t.byScope, s.Scope)
	}
}

// ByConnection looks up the socket owning a connection.
func (t *Table) ByConnection(conn *websocket.Conn) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConnection[conn]
	return s, ok
}

// ByScope looks up the socket whose scope prefix matches. scope must be the
// full "N:" prefix, not a channel; callers strip a channel down to its
// scope with internal/scope.Of before calling this.
func (t *Table) ByScope(scopePrefix string) (*Socket, bool) {
	if scopePrefix == "" {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byScope[scopePrefix]
	return s, ok
}

// All returns a snapshot of every live socket.
func (t *Table) All() []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Socket, 0, len(t.byConnection))
	for _, s := range t.byConnection {
		out = append(out, s)
	}
	return out
}
