package wsservice

import (
	"context"
	"log/slog"
	"time"

	"cockpit-ws/internal/creds"
	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/scope"
	"cockpit-ws/internal/session"
	"cockpit-ws/internal/socket"
)

// dispatchInboundCommand handles a control frame a browser socket sent with
// no channel of its own: every such frame carries a "command" field and,
// usually, a socket-local "channel" naming the channel it concerns.
func (svc *Service) dispatchInboundCommand(sock *socket.Socket, payload []byte) {
	cmd, ok := frame.ParseCommand(payload)
	if !ok {
		svc.inboundProtocolError(sock)
		return
	}

	var global *string
	if cmd.Channel != nil {
		g := scope.AddScope(sock.Scope, *cmd.Channel)
		global = &g
	}

	suppress := false
	switch cmd.Command {
	case "open":
		if global != nil {
			svc.processOpen(sock, *global, cmd.Options)
		}
	case "logout":
		svc.processLogout(cmd.Options)
		suppress = true
	case "close":
		// accepted as-is, forwarded below
	case "ping":
		suppress = true
	}
	if suppress {
		return
	}

	if global == nil {
		svc.broadcastControl(cmd)
		return
	}

	sess, ok := svc.sessions.ByChannel(*global)
	if !ok || sess.SentEOF() {
		return
	}
	fields := make(map[string]any, len(cmd.Options)+2)
	for k, v := range cmd.Options {
		fields[k] = v
	}
	fields["command"] = cmd.Command
	fields["channel"] = *global
	sess.Transport.SendControl(fields)
}

// broadcastControl re-encodes cmd (its options plus its command name) and
// sends it on every session's transport whose SentEOF is false. Used for
// channel-less commands other than "ping" and "logout", which
// dispatchInboundCommand consumes without forwarding.
func (svc *Service) broadcastControl(cmd frame.Command) {
	fields := make(map[string]any, len(cmd.Options)+1)
	for k, v := range cmd.Options {
		fields[k] = v
	}
	fields["command"] = cmd.Command
	for _, sess := range svc.sessions.All() {
		if sess.SentEOF() {
			continue
		}
		sess.Transport.SendControl(fields)
	}
}

// processOpen registers a new transport-global channel on the shared or
// private session for the requested host, dialing a fresh transport only
// when no sharable session already exists.
func (svc *Service) processOpen(sock *socket.Socket, channel string, options map[string]any) {
	if svc.closing.Load() {
		slog.Debug("ignoring open while disposing", "channel", channel)
		return
	}
	if local, _ := scope.StripScope(channel); local == "" {
		return
	}
	if _, exists := svc.sessions.ByChannel(channel); exists {
		slog.Error("open requested a channel already in use", "channel", channel)
		svc.inboundProtocolError(sock)
		return
	}

	host, _ := options["host"].(string)
	host = session.NormalizeHost(host, svc.cfg.SSHPort)

	user, hasUser := options["user"].(string)
	password, _ := options["password"].(string)
	hostKey, _ := options["host-key"].(string)

	var openCreds *creds.Creds
	private := false
	if hasUser && user != "" {
		openCreds = creds.New(user, password, svc.creds.RemoteHost)
		private = true
	} else {
		openCreds = svc.creds
	}
	if hostKey != "" {
		private = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := svc.sessions.LookupOrOpen(ctx, host, openCreds, private, hostKey, svc.dial)
	if err != nil {
		slog.Error("failed to open session", "host", host, "err", err)
		svc.sendChannelClose(sock, channel, "no-host")
		return
	}
	svc.sessions.AddChannel(sess, channel)
}

// processLogout poisons the service's shared credentials so they can no
// longer dial new sessions, optionally tearing the whole service down.
func (svc *Service) processLogout(options map[string]any) {
	disconnect, _ := options["disconnect"].(bool)
	svc.creds.Poison()
	if disconnect {
		svc.Dispose("logout")
		return
	}
	slog.Info("logout received without disconnect")
}

// sendChannelClose writes a close control for a single transport-global
// channel directly to the socket owning it, bypassing the session (which
// was never successfully opened).
func (svc *Service) sendChannelClose(sock *socket.Socket, channel, reason string) {
	local, ok := scope.StripScope(channel)
	if !ok {
		return
	}
	sock.WriteText(frame.BuildControlFrame(map[string]any{
		"command": "close",
		"channel": local,
		"reason":  reason,
	}))
}
