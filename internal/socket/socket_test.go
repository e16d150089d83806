package socket

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestTrackAndDestroy(t *testing.T) {
	table := NewTable()
	conn := &websocket.Conn{}

	s := table.Track(conn, "1:")
	if _, ok := table.ByConnection(conn); !ok {
		t.Fatal("expected socket registered by connection")
	}
	if got, ok := table.ByScope("1:"); !ok || got != s {
		t.Fatal("expected socket registered by scope")
	}
	if !s.Open() {
		t.Fatal("newly tracked socket should be open")
	}

	table.Destroy(s)

	if _, ok := table.ByConnection(conn); ok {
		t.Error("byConnection entry should be purged")
	}
	if _, ok := table.ByScope("1:"); ok {
		t.Error("byScope entry should be purged")
	}
	if s.Open() {
		t.Error("destroyed socket should no longer be open")
	}
}

func TestByScopeEmptyNeverMatches(t *testing.T) {
	table := NewTable()
	table.Track(&websocket.Conn{}, "1:")
	if _, ok := table.ByScope(""); ok {
		t.Error("empty scope prefix must never match a registered socket")
	}
}

func TestAllSnapshot(t *testing.T) {
	table := NewTable()
	table.Track(&websocket.Conn{}, "1:")
	table.Track(&websocket.Conn{}, "2:")
	if got := len(table.All()); got != 2 {
		t.Errorf("len(All()) = %d, want 2", got)
	}
}
