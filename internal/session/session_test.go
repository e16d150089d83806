package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cockpit-ws/internal/creds"
)

// fakeTransport is a minimal Transport double for table tests; it never
// actually delivers events, it just records Close calls.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
	reason string
	events chan Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 8)}
}

func (f *fakeTransport) SendData(string, []byte) error           { return nil }
func (f *fakeTransport) SendControl(map[string]any) error        { return nil }
func (f *fakeTransport) SendEOF()                                {}
func (f *fakeTransport) Events() <-chan Event                    { return f.events }
func (f *fakeTransport) HostKeyInfo() (string, string, bool)      { return "", "", false }
func (f *fakeTransport) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}
func (f *fakeTransport) wasClosed() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

func TestTrackAndDestroyPurgesAllIndexes(t *testing.T) {
	table := NewTable(30 * time.Second)
	c := creds.New("alice", "", "")
	tr := newFakeTransport()

	s := table.Track("h1", false, c, tr)
	table.AddChannel(s, "1:a")
	table.AddChannel(s, "1:b")

	if _, ok := table.ByHost("h1"); !ok {
		t.Fatal("expected session in byHost")
	}
	if _, ok := table.ByChannel("1:a"); !ok {
		t.Fatal("expected channel 1:a registered")
	}
	if _, ok := table.ByTransport(tr); !ok {
		t.Fatal("expected session in byTransport")
	}

	table.Destroy(s)

	if _, ok := table.ByHost("h1"); ok {
		t.Error("byHost entry should be purged")
	}
	if _, ok := table.ByChannel("1:a"); ok {
		t.Error("byChannel 1:a should be purged")
	}
	if _, ok := table.ByChannel("1:b"); ok {
		t.Error("byChannel 1:b should be purged")
	}
	if _, ok := table.ByTransport(tr); ok {
		t.Error("byTransport entry should be purged")
	}
}

func TestPrivateSessionNeverInByHost(t *testing.T) {
	table := NewTable(30 * time.Second)
	c := creds.New("alice", "x", "")
	tr := newFakeTransport()

	s := table.Track("h1", true, c, tr)
	table.AddChannel(s, "1:a")

	if _, ok := table.ByHost("h1"); ok {
		t.Error("private session must never appear in byHost")
	}
	if got, ok := table.ByChannel("1:a"); !ok || got != s {
		t.Error("private session must still be reachable by channel")
	}
}

func TestLookupOrOpenSharesNonPrivateSession(t *testing.T) {
	// S1: two sockets opening the same host share one session.
	table := NewTable(30 * time.Second)
	c := creds.New("", "", "")
	dialCount := 0
	dial := func(ctx context.Context, host string, creds *creds.Creds, hostKey string) (Transport, error) {
		dialCount++
		return newFakeTransport(), nil
	}

	s1, err := table.LookupOrOpen(context.Background(), "h1", c, false, "", dial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table.AddChannel(s1, "1:a")

	s2, err := table.LookupOrOpen(context.Background(), "h1", c, false, "", dial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table.AddChannel(s2, "2:a")

	if s1 != s2 {
		t.Error("expected the same shared session for both opens")
	}
	if dialCount != 1 {
		t.Errorf("dial count = %d, want 1 (session should be reused)", dialCount)
	}

	bh1, _ := table.ByChannel("1:a")
	bh2, _ := table.ByChannel("2:a")
	if bh1 != s1 || bh2 != s1 {
		t.Error("both scoped channels should resolve back to the shared session")
	}
}

func TestLookupOrOpenPrivateSessionIsDistinct(t *testing.T) {
	// S2: a private (explicit user/password) open produces its own
	// session, absent from by_host, and a later blank-user open reuses
	// (or creates) a different one.
	table := NewTable(30 * time.Second)
	dial := func(ctx context.Context, host string, c *creds.Creds, hostKey string) (Transport, error) {
		return newFakeTransport(), nil
	}

	shared, err := table.LookupOrOpen(context.Background(), "h1", creds.New("", "", ""), false, "", dial)
	if err != nil {
		t.Fatal(err)
	}
	table.AddChannel(shared, "1:a")

	private, err := table.LookupOrOpen(context.Background(), "h1", creds.New("alice", "x", ""), true, "", dial)
	if err != nil {
		t.Fatal(err)
	}
	table.AddChannel(private, "1:b")

	if shared == private {
		t.Fatal("private open must not reuse the shared session")
	}
	if _, ok := table.ByHost("h1"); !ok {
		t.Error("shared session should still be registered in byHost")
	}

	again, err := table.LookupOrOpen(context.Background(), "h1", creds.New("", "", ""), false, "", dial)
	if err != nil {
		t.Fatal(err)
	}
	if again != shared {
		t.Error("a later blank-user open should reuse the still-registered shared session")
	}
}

func TestLookupOrOpenPropagatesDialError(t *testing.T) {
	table := NewTable(30 * time.Second)
	wantErr := errors.New("no route to host")
	dial := func(ctx context.Context, host string, c *creds.Creds, hostKey string) (Transport, error) {
		return nil, wantErr
	}
	_, err := table.LookupOrOpen(context.Background(), "h1", creds.New("", "", ""), false, "", dial)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if _, ok := table.ByHost("h1"); ok {
		t.Error("a failed dial must not leave a partial session registered")
	}
}

func TestRemoveChannelArmsIdleTimeoutAndCancelsOnReAdd(t *testing.T) {
	table := NewTable(20 * time.Millisecond)
	tr := newFakeTransport()
	s := table.Track("h1", false, creds.New("", "", ""), tr)

	table.AddChannel(s, "1:a")
	table.RemoveChannel(s, "1:a")

	// Adding a new channel before the timer fires must cancel the close.
	table.AddChannel(s, "1:b")
	time.Sleep(40 * time.Millisecond)
	if closed, _ := tr.wasClosed(); closed {
		t.Fatal("transport should not have been closed: a channel was re-added before timeout")
	}

	table.RemoveChannel(s, "1:b")
	time.Sleep(60 * time.Millisecond)
	closed, reason := tr.wasClosed()
	if !closed || reason != "timeout" {
		t.Fatalf("expected idle timeout close, got closed=%v reason=%q", closed, reason)
	}
}

func TestNormalizeHost(t *testing.T) {
	if got := NormalizeHost("", 0); got != "localhost" {
		t.Errorf("got %q, want localhost", got)
	}
	if got := NormalizeHost("localhost", 0); got != "localhost" {
		t.Errorf("got %q, want localhost (no port override)", got)
	}
	if got := NormalizeHost("localhost", 2222); got != "127.0.0.1" {
		t.Errorf("got %q, want 127.0.0.1 under port override", got)
	}
	if got := NormalizeHost("example.com", 2222); got != "example.com" {
		t.Errorf("got %q, want example.com unchanged", got)
	}
}

func TestProcessResourcesClearsAndRepopulates(t *testing.T) {
	table := NewTable(30 * time.Second)
	s := table.Track("h1", false, creds.New("", "", ""), newFakeTransport())

	s.ProcessResources(map[string]any{
		"mod1": map[string]any{"checksum": "abc"},
	})
	if mod, ok := s.ModuleForChecksum("abc"); !ok || mod != "mod1" {
		t.Fatalf("expected abc -> mod1, got %q ok=%v", mod, ok)
	}

	s.ProcessResources(map[string]any{
		"mod2": map[string]any{"checksum": "def"},
	})
	if _, ok := s.ModuleForChecksum("abc"); ok {
		t.Error("old checksum table entries must be cleared on repopulation")
	}
	if mod, ok := s.ModuleForChecksum("def"); !ok || mod != "mod2" {
		t.Fatalf("expected def -> mod2, got %q ok=%v", mod, ok)
	}
}
