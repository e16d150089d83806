package wsservice

import (
	"context"
	"time"

	"cockpit-ws/internal/frame"
)

// pingLoop broadcasts a "ping" control to every open socket on the
// configured interval, giving the browser a liveness signal independent of
// any channel traffic. It never touches the session or socket tables
// itself beyond the read-only snapshot All() already guards internally.
func (svc *Service) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.PingInterval)
	defer ticker.Stop()

	pingFrame := frame.BuildControlFrame(map[string]any{"command": "ping"})

	for {
		select {
		case <-ticker.C:
			for _, sock := range svc.sockets.All() {
				if sock.Open() {
					sock.WriteText(pingFrame)
				}
			}
		case <-ctx.Done():
			return
		case <-svc.closed:
			return
		}
	}
}
