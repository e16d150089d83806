package wsservice

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/scope"
	"cockpit-ws/internal/socket"
	"cockpit-ws/internal/util"
)

// ServeSocket upgrades an HTTP request to a "cockpit1" websocket and starts
// its read loop. The read loop itself never touches the session or socket
// tables; it only posts events onto the dispatch mailbox.
func (svc *Service) ServeSocket(w http.ResponseWriter, r *http.Request) {
	if svc.closing.Load() {
		util.RespondServiceUnavailable(w, "service going away")
		return
	}

	conn, err := svc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	svc.callerBegin()
	metrics.CallersActive.Store(svc.callers.Load())
	scopePrefix := svc.nextScope()
	svc.sockets.Track(conn, scopePrefix)
	metrics.SocketsActive.Add(1)
	slog.Info("socket open", "scope", scopePrefix, "remote", r.RemoteAddr)

	go svc.readSocketLoop(conn)
}

func (svc *Service) readSocketLoop(conn *websocket.Conn) {
	for {
		msgType, b, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				slog.Warn("socket read error", "err", err)
			case strings.Contains(err.Error(), "tls: "):
				slog.Debug("socket closed during TLS teardown", "err", err)
			default:
				slog.Debug("socket closed", "err", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		svc.events <- event{socket: &socketEvent{kind: socketMessage, conn: conn, payload: b}}
	}
	svc.events <- event{socket: &socketEvent{kind: socketClosing, conn: conn}}
}

func (svc *Service) onSocketMessage(conn *websocket.Conn, payload []byte) {
	sock, ok := svc.sockets.ByConnection(conn)
	if !ok {
		return
	}

	channel, body, ok := frame.ParseFrame(payload)
	if !ok {
		svc.inboundProtocolError(sock)
		return
	}

	if channel == "" {
		svc.dispatchInboundCommand(sock, body)
		return
	}

	if svc.closing.Load() {
		return
	}

	global := scope.AddScope(sock.Scope, channel)
	sess, ok := svc.sessions.ByChannel(global)
	if !ok || sess.SentEOF() {
		slog.Debug("dropping data for unknown or half-closed channel", "channel", global)
		return
	}
	sess.Transport.SendData(global, body)
}

// onSocketClosing runs when a socket's read loop has exited: every channel
// it still owns gets a synthetic close sent to its session (so the agent
// frees that channel's state), and then the socket itself is torn down.
// Sessions shared with other sockets are left untouched.
func (svc *Service) onSocketClosing(conn *websocket.Conn) {
	sock, ok := svc.sockets.ByConnection(conn)
	if !ok {
		return
	}

	for _, sess := range svc.sessions.All() {
		if sess.SentEOF() {
			continue
		}
		for _, channel := range sess.Channels() {
			if scope.Of(channel) != sock.Scope {
				continue
			}
			local, ok := scope.StripScope(channel)
			if !ok {
				continue
			}
			sess.Transport.SendControl(map[string]any{
				"command": "close",
				"channel": local,
				"reason":  "disconnected",
			})
		}
	}

	svc.destroySocket(sock)
}

func (svc *Service) destroySocket(sock *socket.Socket) {
	svc.sockets.Destroy(sock)
	metrics.SocketsActive.Add(-1)
	sock.Conn.Close()
	svc.callerEnd()
	metrics.CallersActive.Store(svc.callers.Load())
}

func (svc *Service) inboundProtocolError(sock *socket.Socket) {
	sock.WriteText(frame.BuildControlFrame(map[string]any{"command": "close", "reason": "protocol-error"}))
	sock.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "protocol-error"),
		time.Now().Add(time.Second))
	svc.destroySocket(sock)
}
