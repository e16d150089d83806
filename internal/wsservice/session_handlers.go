package wsservice

import (
	"log/slog"

	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/reauth"
	"cockpit-ws/internal/scope"
	"cockpit-ws/internal/session"
)

// onSessionControl handles a control command arriving from an agent
// transport: without a channel it is either an authorize re-challenge or a
// ping; with a channel it is routed either to the HTTP resource fetcher
// waiting on that channel or relayed to the browser socket that owns it.
func (svc *Service) onSessionControl(transport session.Transport, cmd frame.Command) {
	sess, ok := svc.sessions.ByTransport(transport)
	if !ok {
		slog.Error("control received from untracked transport")
		transport.Close("protocol-error")
		return
	}

	if cmd.Channel == nil {
		switch cmd.Command {
		case "authorize":
			svc.handleAuthorize(sess, transport, cmd)
		case "ping":
		default:
			slog.Warn("session control missing channel", "command", cmd.Command, "host", sess.Host)
		}
		return
	}

	channel := *cmd.Channel
	owner, ok := svc.sessions.ByChannel(channel)
	if !ok || owner.Transport != transport {
		slog.Error("agent claimed a channel it does not own", "channel", channel, "host", sess.Host)
		transport.Close("protocol-error")
		return
	}

	if cmd.Command == "close" {
		if resources, ok := cmd.Options["resources"].(map[string]any); ok {
			sess.ProcessResources(resources)
		}
		svc.sessions.RemoveChannel(sess, channel)
	}

	if svc.deliverControlToResourceWaiter(channel, cmd) {
		return
	}
	svc.forwardControlToSocket(channel, cmd)
}

// handleAuthorize answers an agent's "authorize" re-challenge for the one
// scheme this core still answers itself, "crypt1". A challenge whose user
// doesn't match the session's own credentials is dropped silently: this
// core never responds on another user's behalf, even to report a refusal.
func (svc *Service) handleAuthorize(sess *session.Session, transport session.Transport, cmd frame.Command) {
	challengeStr, _ := cmd.Options["challenge"].(string)
	cookie, _ := cmd.Options["cookie"].(string)
	if challengeStr == "" || cookie == "" {
		return
	}

	ch, ok := reauth.ParseChallenge(challengeStr)
	if !ok {
		return
	}
	if sess.Creds == nil || ch.User != sess.Creds.User {
		slog.Warn("authorize challenge user mismatch, dropping", "host", sess.Host, "challenge_user", ch.User)
		return
	}

	response := ""
	if ch.Type == "crypt1" && sess.Creds.Password != "" {
		response = reauth.Crypt1Response(sess.Creds.Password, cookie)
	}

	if sess.SentEOF() {
		return
	}
	transport.SendControl(map[string]any{
		"command":  "authorize",
		"cookie":   cookie,
		"response": response,
	})
}

func (svc *Service) deliverControlToResourceWaiter(channel string, cmd frame.Command) bool {
	ch, ok := svc.resourceWaiter(channel)
	if !ok {
		return false
	}
	reason, _ := cmd.Options["reason"].(string)
	select {
	case ch <- resourceEvent{kind: "control", reason: reason, options: cmd.Options}:
	default:
	}
	return true
}

func (svc *Service) forwardControlToSocket(channel string, cmd frame.Command) {
	prefix := scope.Of(channel)
	sock, ok := svc.sockets.ByScope(prefix)
	if !ok || !sock.Open() {
		return
	}
	local, ok := scope.StripScope(channel)
	if !ok {
		return
	}
	fields := make(map[string]any, len(cmd.Options)+2)
	for k, v := range cmd.Options {
		fields[k] = v
	}
	fields["command"] = cmd.Command
	fields["channel"] = local
	sock.WriteText(frame.BuildControlFrame(fields))
}

// onSessionRecv relays a data frame from an agent transport either to the
// HTTP resource fetcher waiting on that channel, or to the browser socket
// that owns it, rewriting the channel down to its socket-local form.
func (svc *Service) onSessionRecv(transport session.Transport, channel string, payload []byte) {
	owner, ok := svc.sessions.ByChannel(channel)
	if !ok || owner.Transport != transport {
		slog.Error("agent sent data on a channel it does not own", "channel", channel)
		transport.Close("protocol-error")
		return
	}

	if ch, ok := svc.resourceWaiter(channel); ok {
		select {
		case ch <- resourceEvent{kind: "recv", payload: payload}:
		default:
		}
		return
	}

	prefix := scope.Of(channel)
	sock, ok := svc.sockets.ByScope(prefix)
	if !ok || !sock.Open() {
		return
	}
	local, ok := scope.StripScope(channel)
	if !ok {
		return
	}
	msg := append(frame.BuildDataHeader(local), payload...)
	sock.WriteText(msg)
}

// onSessionClosed tears a session down: every channel it still held gets a
// synthetic close delivered to whichever socket (or resource waiter) owns
// it, carrying the offered host key when the closure was due to an
// unrecognized one. Losing the primary session disposes the whole service.
func (svc *Service) onSessionClosed(transport session.Transport, problem string) {
	sess, ok := svc.sessions.ByTransport(transport)
	if !ok {
		return
	}

	if problem == "unknown-hostkey" {
		if key, fp, ok := transport.HostKeyInfo(); ok {
			sess.SetHostKeyInfo(key, fp)
		}
	}

	for _, channel := range sess.Channels() {
		if ch, ok := svc.resourceWaiter(channel); ok {
			select {
			case ch <- resourceEvent{kind: "control", reason: "terminated"}:
			default:
			}
			continue
		}

		prefix := scope.Of(channel)
		sock, ok := svc.sockets.ByScope(prefix)
		if !ok || !sock.Open() {
			continue
		}
		local, ok := scope.StripScope(channel)
		if !ok {
			continue
		}
		fields := map[string]any{"command": "close", "channel": local, "reason": problem}
		if key, fp, ok := sess.HostKeyInfo(); ok {
			fields["host-key"] = key
			fields["host-fingerprint"] = fp
		}
		sock.WriteText(frame.BuildControlFrame(fields))
	}

	wasPrimary := sess.Primary
	svc.sessions.Destroy(sess)
	metrics.SessionsActive.Add(-1)

	if wasPrimary {
		svc.Dispose("primary session lost")
	}
}
