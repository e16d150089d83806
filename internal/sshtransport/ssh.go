// Package sshtransport implements the concrete Transport that backs a
// non-local Session: an SSH connection to the target host, running the
// agent command over the session's stdio pipes, framed with the same
// channel\npayload envelope the browser socket speaks, wrapped in the
// size-prefixed super-framing frame.ReadSizedFrame/WriteSizedFrame require
// on a byte stream that has no other message boundary.
//
// Dial, start a read-loop goroutine, post decoded events onto a channel,
// and tear down exactly once via a markClosed-style guarded close — the
// same shape as a pooled websocket connection, but golang.org/x/crypto/ssh
// carries the bytes instead of gorilla/websocket.
package sshtransport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cockpit-ws/internal/creds"
	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/session"
)

// Config configures a single SSH dial.
type Config struct {
	Host           string
	Port           int // 0 means 22
	AgentCommand   string
	KnownHostsPath string
	// HostKey, if set, pins the expected host key by its SHA256
	// fingerprint (ssh.FingerprintSHA256 form): opening a channel with an
	// explicit host-key forces the session private and is checked instead
	// of known_hosts.
	HostKey string
}

// Transport is the SSH-backed Transport implementation.
type Transport struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	mu              sync.Mutex
	closed          bool
	sentEOF         bool
	hostKey         string
	hostFingerprint string

	events  chan session.Event
	writeMu sync.Mutex
}

var _ session.Transport = (*Transport)(nil)

// Dial opens an SSH connection to host on port 22, authenticates with c,
// and starts the default agent command over a fresh session's stdio. It
// sets no known_hosts file, so unless hostKeyPinned is given the host key
// is not checked. Matches the session.Dialer signature
// session.Table.LookupOrOpen expects.
func Dial(ctx context.Context, host string, c *creds.Creds, hostKeyPinned string) (session.Transport, error) {
	return DialConfig(ctx, Config{Host: host, HostKey: hostKeyPinned}, c)
}

// DialConfig is Dial with full control over the SSH configuration, used
// directly by tests and by callers that need a non-default port/command.
func DialConfig(ctx context.Context, cfg Config, c *creds.Creds) (*Transport, error) {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	t := &Transport{events: make(chan session.Event, 64)}

	hostKeyCallback, err := buildHostKeyCallback(cfg.KnownHostsPath, cfg.HostKey, t)
	if err != nil {
		return nil, fmt.Errorf("sshtransport: loading known_hosts: %w", err)
	}

	auth := []ssh.AuthMethod{}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	clientCfg := &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sshtransport: dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if t.hostKey != "" {
			// Unknown-hostkey failures are reported as a closed event
			// carrying the offered key, not as a plain dial error, so the
			// caller can prompt the user to accept it.
			t.mu.Lock()
			closed := t.closed
			t.closed = true
			t.mu.Unlock()
			if !closed {
				t.postClosed("unknown-hostkey")
			}
			return t, nil
		}
		return nil, fmt.Errorf("sshtransport: handshake %s: %w", addr, err)
	}
	t.client = ssh.NewClient(sshConn, chans, reqs)

	sess, err := t.client.NewSession()
	if err != nil {
		t.client.Close()
		return nil, fmt.Errorf("sshtransport: new session: %w", err)
	}
	t.sess = sess

	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sshtransport: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sshtransport: stdout pipe: %w", err)
	}
	t.stdin, t.stdout = stdin, stdout

	agentCommand := cfg.AgentCommand
	if agentCommand == "" {
		agentCommand = "cockpit-bridge"
	}
	if err := sess.Start(agentCommand); err != nil {
		return nil, fmt.Errorf("sshtransport: start agent command: %w", err)
	}

	go t.readLoop()

	return t, nil
}

func buildHostKeyCallback(knownHostsPath, pinned string, t *Transport) (ssh.HostKeyCallback, error) {
	if pinned != "" {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if ssh.FingerprintSHA256(key) != pinned {
				t.recordHostKey(key)
				return fmt.Errorf("sshtransport: host key does not match pinned fingerprint")
			}
			return nil
		}, nil
	}

	if knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			t.recordHostKey(key)
			return err
		}
		return nil
	}, nil
}

func (t *Transport) recordHostKey(key ssh.PublicKey) {
	t.mu.Lock()
	t.hostKey = string(key.Marshal())
	t.hostFingerprint = ssh.FingerprintSHA256(key)
	t.mu.Unlock()
}

func (t *Transport) readLoop() {
	defer t.markClosed("terminated")

	reader := bufio.NewReader(t.stdout)
	for {
		channel, payload, err := frame.ReadSizedFrame(reader)
		if err != nil {
			return
		}
		t.dispatchFrame(channel, payload)
	}
}

func (t *Transport) dispatchFrame(channel string, payload []byte) {
	if channel == "" {
		cmd, ok := frame.ParseCommand(payload)
		if !ok {
			slog.Warn("sshtransport: malformed control frame", "payload", string(payload))
			return
		}
		t.events <- session.Event{Kind: session.EventControl, Transport: t, Command: cmd}
		return
	}
	t.events <- session.Event{Kind: session.EventRecv, Transport: t, Channel: channel, Payload: payload}
}

func (t *Transport) postClosed(reason string) {
	t.events <- session.Event{Kind: session.EventClosed, Transport: t, Problem: reason}
}

func (t *Transport) markClosed(reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.sess != nil {
		t.sess.Close()
	}
	if t.client != nil {
		t.client.Close()
	}
	t.postClosed(reason)
}

// SendData implements session.Transport.
func (t *Transport) SendData(channel string, payload []byte) error {
	if t.SentEOFState() {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return frame.WriteSizedFrame(t.stdin, frame.BuildDataHeader(channel), payload)
}

// SendControl implements session.Transport.
func (t *Transport) SendControl(fields map[string]any) error {
	if t.SentEOFState() {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return frame.WriteSizedFrame(t.stdin, []byte("\n"), frame.BuildControl(fields))
}

// SentEOFState reports whether SendEOF has already run.
func (t *Transport) SentEOFState() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentEOF
}

// SendEOF implements session.Transport.
func (t *Transport) SendEOF() {
	t.mu.Lock()
	if t.sentEOF {
		t.mu.Unlock()
		return
	}
	t.sentEOF = true
	t.mu.Unlock()
	if t.stdin != nil {
		t.stdin.Close()
	}
}

// Close implements session.Transport.
func (t *Transport) Close(reason string) {
	t.markClosed(reason)
}

// Events implements session.Transport.
func (t *Transport) Events() <-chan session.Event {
	return t.events
}

// HostKeyInfo implements session.Transport.
func (t *Transport) HostKeyInfo() (key, fingerprint string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hostKey, t.hostFingerprint, t.hostKey != ""
}
