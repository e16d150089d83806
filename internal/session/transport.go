package session

import "cockpit-ws/internal/frame"

// EventKind discriminates the three events a Transport can deliver.
type EventKind int

const (
	// EventControl carries a decoded control command from the agent.
	EventControl EventKind = iota
	// EventRecv carries a data frame's payload for a channel.
	EventRecv
	// EventClosed signals the transport is gone; Problem is the reason
	// ("timeout", "terminated", "protocol-error", "unknown-hostkey", ...).
	EventClosed
)

// Event is posted by a Transport's read loop onto its event channel. The
// service's single dispatch goroutine is the only consumer.
type Event struct {
	Kind      EventKind
	Transport Transport
	Channel   string // valid channel for EventRecv; EventControl's channel lives in Command
	Payload   []byte // valid for EventRecv
	Command   frame.Command
	Problem   string // valid for EventClosed
}

// Transport is the bidirectional conduit a Session multiplexes channels
// over. Production code backs it with an SSH-carried agent process
// (internal/sshtransport); tests back it with an in-process pipe.
type Transport interface {
	// SendData writes a data frame for the given transport-global channel.
	SendData(channel string, payload []byte) error
	// SendControl writes a control frame built from fields (nil values
	// are skipped, matching frame.BuildControl).
	SendControl(fields map[string]any) error
	// SendEOF half-closes the transport; further sends become no-ops.
	SendEOF()
	// Close tears the transport down with the given reason, which the
	// transport should then deliver once as an EventClosed.
	Close(reason string)
	// Events returns the channel the transport's read loop posts on.
	Events() <-chan Event
	// HostKeyInfo returns the offered host key and its fingerprint when
	// the most recent close was due to an unknown host key.
	HostKeyInfo() (key, fingerprint string, ok bool)
}
