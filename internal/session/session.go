// Package session implements the session table: three mutually consistent
// indexes over live agent conduits, generalized from "one websocket per
// relay" to "one SSH transport per host, many channels multiplexed over
// it".
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cockpit-ws/internal/creds"
)

// Session is a live conduit to one agent, reached over a Transport.
type Session struct {
	Host      string
	Primary   bool
	Private   bool
	Transport Transport
	Creds     *creds.Creds

	mu        sync.Mutex
	channels  map[string]struct{}
	sentEOF   bool
	idleTimer *time.Timer
	checksums map[string]string

	hostKey         string
	hostFingerprint string
}

// Channels returns a snapshot of the transport-global channel IDs open on
// this session.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// SentEOF reports whether EOF has already been sent on this session's
// transport; once true no further sends are attempted.
func (s *Session) SentEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentEOF
}

// MarkSentEOF records that EOF was sent.
func (s *Session) MarkSentEOF() {
	s.mu.Lock()
	s.sentEOF = true
	s.mu.Unlock()
}

// SetHostKeyInfo records the host key/fingerprint offered on an
// unknown-hostkey close, for OnSessionClosed to relay to sockets.
func (s *Session) SetHostKeyInfo(key, fingerprint string) {
	s.mu.Lock()
	s.hostKey, s.hostFingerprint = key, fingerprint
	s.mu.Unlock()
}

// HostKeyInfo returns the recorded host key/fingerprint, if any.
func (s *Session) HostKeyInfo() (key, fingerprint string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostKey, s.hostFingerprint, s.hostKey != ""
}

// ProcessResources ingests a close.resources options object: for every
// module entry carrying a non-null "checksum" string, the checksum table is
// repopulated (cleared first) with checksum -> module.
func (s *Session) ProcessResources(resources map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checksums = make(map[string]string)
	for module, details := range resources {
		detailMap, ok := details.(map[string]any)
		if !ok {
			continue
		}
		checksum, ok := detailMap["checksum"].(string)
		if !ok || checksum == "" {
			continue
		}
		s.checksums[checksum] = module
	}
}

// ModuleForChecksum looks up the module name a checksum resolves to on this
// session, per the resources table last ingested by ProcessResources.
func (s *Session) ModuleForChecksum(checksum string) (module string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	module, ok = s.checksums[checksum]
	return
}

// Table holds every live Session, indexed three ways, and is the single
// owner of Session lifetimes.
type Table struct {
	mu          sync.Mutex
	byHost      map[string]*Session
	byChannel   map[string]*Session
	byTransport map[Transport]*Session

	agentTimeout time.Duration
	openGroup    singleflight.Group
}

// NewTable constructs an empty session table. agentTimeout is the idle
// session close delay (default 30s).
func NewTable(agentTimeout time.Duration) *Table {
	return &Table{
		byHost:       make(map[string]*Session),
		byChannel:    make(map[string]*Session),
		byTransport:  make(map[Transport]*Session),
		agentTimeout: agentTimeout,
	}
}

// Track allocates a new Session and inserts it into byTransport (owning)
// and, unless private, byHost.
func (t *Table) Track(host string, private bool, c *creds.Creds, transport Transport) *Session {
	s := &Session{
		Host:      host,
		Private:   private,
		Transport: transport,
		Creds:     c,
		channels:  make(map[string]struct{}),
		checksums: make(map[string]string),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byTransport[transport] = s
	if !private {
		t.byHost[host] = s
	}
	return s
}

// TrackPrimary is Track plus marking the session primary, for the session
// constructed up front at service startup.
func (t *Table) TrackPrimary(host string, c *creds.Creds, transport Transport) *Session {
	s := t.Track(host, false, c, transport)
	s.Primary = true
	return s
}

// AddChannel registers a transport-global channel on a session and cancels
// any pending idle-close timer.
func (t *Table) AddChannel(s *Session, channel string) {
	t.mu.Lock()
	t.byChannel[channel] = s
	t.mu.Unlock()

	s.mu.Lock()
	s.channels[channel] = struct{}{}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()
}

// RemoveChannel removes a transport-global channel from a session. If the
// session has no channels left, an idle-close timer is armed: if the
// session is still empty when it fires, its transport is closed with
// reason "timeout".
func (t *Table) RemoveChannel(s *Session, channel string) {
	t.mu.Lock()
	delete(t.byChannel, channel)
	t.mu.Unlock()

	s.mu.Lock()
	delete(s.channels, channel)
	empty := len(s.channels) == 0
	if empty && t.agentTimeout > 0 {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		transport := s.Transport
		s.idleTimer = time.AfterFunc(t.agentTimeout, func() {
			s.mu.Lock()
			stillEmpty := len(s.channels) == 0
			s.mu.Unlock()
			if stillEmpty {
				transport.Close("timeout")
			}
		})
	}
	s.mu.Unlock()
}

// Destroy purges a session from every index: its channel keys from
// byChannel, its byHost entry if present, and its owning byTransport entry.
func (t *Table) Destroy(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.mu.Lock()
	for ch := range s.channels {
		delete(t.byChannel, ch)
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if existing, ok := t.byHost[s.Host]; ok && existing == s {
		delete(t.byHost, s.Host)
	}
	delete(t.byTransport, s.Transport)
}

// ByChannel looks up the session owning a transport-global channel.
func (t *Table) ByChannel(channel string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byChannel[channel]
	return s, ok
}

// ByHost looks up the shared non-private session for a host.
func (t *Table) ByHost(host string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byHost[host]
	return s, ok
}

// ByTransport looks up the session owning a transport.
func (t *Table) ByTransport(transport Transport) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byTransport[transport]
	return s, ok
}

// All returns a snapshot of every live session, safe to range over while
// the table is concurrently mutated; destructive iteration should always
// snapshot first.
func (t *Table) All() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.byTransport))
	for _, s := range t.byTransport {
		out = append(out, s)
	}
	return out
}

// Dialer opens a new Transport to a host, used by LookupOrOpen when no
// sharable session already exists. Production wires this to
// internal/sshtransport.Dial; tests wire it to an in-process pipe factory.
type Dialer func(ctx context.Context, host string, c *creds.Creds, hostKey string) (Transport, error)

// LookupOrOpen reuses a shared
// non-private session for host when one exists and private is false;
// otherwise dial a fresh transport and Track it. Concurrent callers
// racing to open the same (host, private, user) session are deduplicated
// with singleflight, so two browser sockets opening the same shared host in
// the same instant dial SSH exactly once. Poisoned credentials are refused
// before any dial; an existing shared session is still reused.
func (t *Table) LookupOrOpen(ctx context.Context, host string, c *creds.Creds, private bool, hostKey string, dial Dialer) (*Session, error) {
	if !private {
		if s, ok := t.ByHost(host); ok {
			return s, nil
		}
	}

	key := fmt.Sprintf("%v:%s:%s", private, host, c.User)
	result, err, _ := t.openGroup.Do(key, func() (any, error) {
		// Re-check after winning the singleflight race: another caller
		// may have completed the dial while we were waiting to enter.
		if !private {
			if s, ok := t.ByHost(host); ok {
				return s, nil
			}
		}
		if c.Poisoned() {
			return nil, fmt.Errorf("session: credentials for %q are poisoned", c.User)
		}

		transport, err := dial(ctx, host, c, hostKey)
		if err != nil {
			return nil, err
		}
		return t.Track(host, private, c, transport), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// NormalizeHost: blank host becomes
// "localhost"; "localhost" becomes "127.0.0.1" when a test-only specific
// port override is configured (sshPort != 0 signals that override).
func NormalizeHost(host string, sshPort int) string {
	if host == "" {
		host = "localhost"
	}
	if host == "localhost" && sshPort != 0 {
		return "127.0.0.1"
	}
	return host
}
