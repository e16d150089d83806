package wsservice

import (
	"github.com/gorilla/websocket"

	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/session"
)

// event is the single tagged-union mailbox item the dispatch goroutine
// drains: exactly one of its two fields is set. Every source that would
// otherwise be a signal callback - a transport's read loop, a socket's
// read loop - posts one of these instead of touching the tables directly.
type event struct {
	session *session.Event
	socket  *socketEvent
}

type socketEventKind int

const (
	socketMessage socketEventKind = iota
	socketClosing
)

type socketEvent struct {
	kind    socketEventKind
	conn    *websocket.Conn
	payload []byte
}

// resourceEvent is what a resource fetch's registered channel receives:
// either a chunk of data, or the terminal control/close carrying a reason
// ("" on success, "not-found", or any other agent-supplied reason).
type resourceEvent struct {
	kind    string // "recv" or "control"
	payload []byte
	reason  string
	options map[string]any
}

// forwardSessionEvents fans a transport's event channel into the service's
// single dispatch mailbox. Started once per transport, it exits when the
// transport closes its event channel... which a Transport implementation
// never does; it exits only when the transport delivers EventClosed, since
// nothing more will ever arrive for it afterward.
func (svc *Service) forwardSessionEvents(t session.Transport) {
	for ev := range t.Events() {
		evCopy := ev
		svc.events <- event{session: &evCopy}
		if evCopy.Kind == session.EventClosed {
			return
		}
	}
}

func (svc *Service) handleEvent(ev event) {
	switch {
	case ev.session != nil:
		switch ev.session.Kind {
		case session.EventControl:
			svc.onSessionControl(ev.session.Transport, ev.session.Command)
		case session.EventRecv:
			svc.onSessionRecv(ev.session.Transport, ev.session.Channel, ev.session.Payload)
		case session.EventClosed:
			svc.onSessionClosed(ev.session.Transport, ev.session.Problem)
		}
	case ev.socket != nil:
		switch ev.socket.kind {
		case socketMessage:
			svc.onSocketMessage(ev.socket.conn, ev.socket.payload)
		case socketClosing:
			svc.onSocketClosing(ev.socket.conn)
		}
	}
}

func buildGoingAway() []byte {
	return frame.BuildControlFrame(map[string]any{"command": "close", "reason": "going-away"})
}
