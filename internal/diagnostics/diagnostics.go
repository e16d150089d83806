// Package diagnostics renders a short Markdown document describing service
// topology, invariants, and live counters into an HTML operator page at
// request time.
package diagnostics

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
)

// Snapshot is the live state rendered into the page. Callers (the HTTP
// handler in internal/wsservice) populate this from the session and socket
// tables and the metrics package; diagnostics itself holds no state.
type Snapshot struct {
	SessionsActive int64
	SocketsActive  int64
	CallersActive  int64
	CacheHits      int64
	CacheMisses    int64
	Uptime         time.Duration
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><title>cockpit-ws diagnostics</title><meta charset="utf-8"></head>
<body>
%s
</body>
</html>
`

// markdownBody is the static portion of the page: service topology and
// invariants, written once and never touching live state.
const markdownBody = `# cockpit-ws diagnostics

## Topology

A browser websocket connects to a ` + "`Socket`" + `, multiplexing one or more
channels onto a host ` + "`Session`" + `, which reaches an agent process over an
SSH transport (or a local pipe for the primary session).

## Invariants

- A private session never appears in the by-host index; it is reachable
  only through its owning socket.
- A channel belongs to exactly one session and one socket at a time.
- A session with zero open channels is destroyed after the configured
  agent idle timeout unless a new channel is added first.
- Destroying a socket synthesizes a close for every channel it still owns,
  without destroying sessions shared with other sockets.

## Live counters
`

// Render converts the static Markdown body plus a live counters section
// built from snap into a full HTML page, falling back to escaped plain
// text if the Markdown conversion fails.
func Render(snap Snapshot) (string, error) {
	counters := fmt.Sprintf(
		"\n- Active sessions: %d\n- Active sockets: %d\n- Active callers: %d\n- Resource cache hits/misses: %d/%d\n- Uptime: %s\n",
		snap.SessionsActive, snap.SocketsActive, snap.CallersActive,
		snap.CacheHits, snap.CacheMisses, snap.Uptime.Round(time.Second),
	)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdownBody+counters), &buf); err != nil {
		return fmt.Sprintf(pageTemplate, template.HTML(html.EscapeString(markdownBody+counters))), nil
	}
	return fmt.Sprintf(pageTemplate, buf.String()), nil
}
