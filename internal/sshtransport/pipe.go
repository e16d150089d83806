package sshtransport

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/session"
)

// PipeTransport is the direct local Transport used for the primary
// localhost session constructed at service startup, with no network hop:
// it spawns the agent command as a local subprocess and frames the same
// channel\npayload envelope, size-prefixed the same way sshtransport.Transport
// frames its SSH stdio, over its stdio. No third-party library renders "run
// a local subprocess and talk sized-frame bytes over its stdin/stdout" any
// better than the standard os/exec package.
type PipeTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	mu      sync.Mutex
	closed  bool
	sentEOF bool

	events  chan session.Event
	writeMu sync.Mutex
}

var _ session.Transport = (*PipeTransport)(nil)

// StartPipe spawns agentCommand as a local subprocess and wires a
// PipeTransport to its stdio.
func StartPipe(agentCommand string) (*PipeTransport, error) {
	cmd := exec.Command(agentCommand)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sshtransport: pipe stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sshtransport: pipe stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sshtransport: start %s: %w", agentCommand, err)
	}

	t := &PipeTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		events: make(chan session.Event, 64),
	}
	go t.readLoop()
	return t, nil
}

func (t *PipeTransport) readLoop() {
	defer t.markClosed("terminated")

	reader := bufio.NewReader(t.stdout)
	for {
		channel, payload, err := frame.ReadSizedFrame(reader)
		if err != nil {
			return
		}
		if channel == "" {
			cmd, ok := frame.ParseCommand(payload)
			if !ok {
				continue
			}
			t.events <- session.Event{Kind: session.EventControl, Transport: t, Command: cmd}
			continue
		}
		t.events <- session.Event{Kind: session.EventRecv, Transport: t, Channel: channel, Payload: payload}
	}
}

func (t *PipeTransport) markClosed(reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.events <- session.Event{Kind: session.EventClosed, Transport: t, Problem: reason}
}

// SendData implements session.Transport.
func (t *PipeTransport) SendData(channel string, payload []byte) error {
	if t.SentEOFState() {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return frame.WriteSizedFrame(t.stdin, frame.BuildDataHeader(channel), payload)
}

// SendControl implements session.Transport.
func (t *PipeTransport) SendControl(fields map[string]any) error {
	if t.SentEOFState() {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return frame.WriteSizedFrame(t.stdin, []byte("\n"), frame.BuildControl(fields))
}

// SentEOFState reports whether SendEOF has already run.
func (t *PipeTransport) SentEOFState() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentEOF
}

// SendEOF implements session.Transport.
func (t *PipeTransport) SendEOF() {
	t.mu.Lock()
	if t.sentEOF {
		t.mu.Unlock()
		return
	}
	t.sentEOF = true
	t.mu.Unlock()
	t.stdin.Close()
}

// Close implements session.Transport.
func (t *PipeTransport) Close(reason string) {
	t.markClosed(reason)
}

// Events implements session.Transport.
func (t *PipeTransport) Events() <-chan session.Event {
	return t.events
}

// HostKeyInfo implements session.Transport. A local pipe has no host key.
func (t *PipeTransport) HostKeyInfo() (string, string, bool) {
	return "", "", false
}
